// internal/di/container.go
package di

import (
	"sync"
)

// Container is a simple dependency injection container
type Container struct {
	services map[string]interface{}
	mutex    sync.RWMutex
}

// Global container instance (singleton)
var (
	globalContainer *Container
	once            sync.Once
)

// NewContainer creates a new dependency injection container
func NewContainer() *Container {
	container := &Container{
		services: make(map[string]interface{}),
	}

	return container
}

// GetContainer returns the global container instance
func GetContainer() *Container {
	if globalContainer == nil {
		once.Do(func() {
			globalContainer = NewContainer()
		})
	}
	return globalContainer
}

// Register stores a service instance in the container
func (c *Container) Register(name string, service interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.services[name] = service
}

// Get retrieves a service instance from the container
func (c *Container) Get(name string) interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	service, exists := c.services[name]
	if !exists {
		return nil
	}

	return service
}

// GetTyped retrieves a service or a default when it is missing
func (c *Container) GetTyped(name string, defaultVal interface{}) interface{} {
	service := c.Get(name)
	if service == nil {
		return defaultVal
	}
	return service
}

// Has reports whether a service with the given name is registered
func (c *Container) Has(name string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	_, exists := c.services[name]
	return exists
}

// Remove deletes a service from the container
func (c *Container) Remove(name string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.services, name)
}

// Clear removes every registered service
func (c *Container) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.services = make(map[string]interface{})
}

// GetNames lists the names of all registered services
func (c *Container) GetNames() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	names := make([]string, 0, len(c.services))
	for name := range c.services {
		names = append(names, name)
	}

	return names
}
