package notion

import "sync"

// DatabaseIDCache resolves database names to ids with get-or-build
// semantics. The builder runs at most once per key until Invalidate.
type DatabaseIDCache struct {
	mu      sync.Mutex
	ids     map[string]string
	builder func(name string) (string, error)
}

func NewDatabaseIDCache(builder func(name string) (string, error)) *DatabaseIDCache {
	return &DatabaseIDCache{
		ids:     make(map[string]string),
		builder: builder,
	}
}

func (c *DatabaseIDCache) Get(name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.ids[name]; ok {
		return id, nil
	}
	id, err := c.builder(name)
	if err != nil {
		return "", err
	}
	c.ids[name] = id
	return id, nil
}

func (c *DatabaseIDCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = make(map[string]string)
}
