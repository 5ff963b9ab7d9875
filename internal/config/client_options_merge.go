package config

// Merge overlays other onto c. Later layers win field by field; map entries
// are unioned with the later layer taking precedence.
func (c *ClientOptions) Merge(other *ClientOptions) *ClientOptions {
	if other == nil {
		return c
	}
	if c == nil {
		return other.Clone()
	}

	result := c.Clone()

	if other.Timeout != nil {
		result.Timeout = result.Timeout.Merge(other.Timeout)
	}
	if other.TLS != nil {
		result.TLS = other.TLS.Clone()
	}
	if other.BasicAuth != nil {
		result.BasicAuth = &BasicAuthConfig{
			Username: other.BasicAuth.Username,
			Password: other.BasicAuth.Password,
		}
	}
	if other.Transport != nil {
		result.Transport = other.Transport.Clone()
	}

	if result.Headers == nil {
		result.Headers = make(map[string]string)
	}
	for k, v := range other.Headers {
		result.Headers[k] = v
	}

	if result.Variables == nil {
		result.Variables = make(map[string]any)
	}
	for k, v := range other.Variables {
		result.Variables[k] = v
	}

	return result
}

// Clone deep-copies the options.
func (c *ClientOptions) Clone() *ClientOptions {
	if c == nil {
		return nil
	}

	result := &ClientOptions{
		Headers:   make(map[string]string),
		Variables: make(map[string]any),
	}

	for k, v := range c.Headers {
		result.Headers[k] = v
	}
	for k, v := range c.Variables {
		result.Variables[k] = v
	}

	if c.Timeout != nil {
		result.Timeout = c.Timeout.Clone()
	}
	if c.TLS != nil {
		result.TLS = c.TLS.Clone()
	}
	if c.BasicAuth != nil {
		result.BasicAuth = &BasicAuthConfig{
			Username: c.BasicAuth.Username,
			Password: c.BasicAuth.Password,
		}
	}
	if c.Transport != nil {
		result.Transport = c.Transport.Clone()
	}

	return result
}

// Merge overlays non-zero timeouts from other.
func (c *TimeoutConfig) Merge(other *TimeoutConfig) *TimeoutConfig {
	if c == nil {
		return other
	}
	if other == nil {
		return c
	}

	result := c.Clone()

	if other.Connect > 0 {
		result.Connect = other.Connect
	}
	if other.Read > 0 {
		result.Read = other.Read
	}
	if other.Write > 0 {
		result.Write = other.Write
	}
	if other.Total > 0 {
		result.Total = other.Total
	}

	return result
}

// Clone copies the timeout settings.
func (c *TimeoutConfig) Clone() *TimeoutConfig {
	if c == nil {
		return nil
	}
	return &TimeoutConfig{
		Connect: c.Connect,
		Read:    c.Read,
		Write:   c.Write,
		Total:   c.Total,
	}
}

// Clone copies the TLS settings.
func (c *TLSConfig) Clone() *TLSConfig {
	if c == nil {
		return nil
	}
	return &TLSConfig{
		InsecureSkipVerify: c.InsecureSkipVerify,
		CertFile:           c.CertFile,
		KeyFile:            c.KeyFile,
		CAFile:             c.CAFile,
		MinVersion:         c.MinVersion,
	}
}

// Clone copies the transport settings.
func (c *TransportConfig) Clone() *TransportConfig {
	if c == nil {
		return nil
	}
	return &TransportConfig{
		Compression:     c.Compression,
		MaxConnsPerHost: c.MaxConnsPerHost,
	}
}
