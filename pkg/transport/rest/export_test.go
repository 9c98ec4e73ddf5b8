package rest

// NewWithBase points c at base, typically an httptest server URL.
func NewWithBase(c *Client, base string) *Client {
	c.base = base
	return c
}
