package models

// Checkpoints is the durable progress record of a compose: one boolean flag
// per completed stage plus string values for stage-specific resume data.
// It serializes to a flat JSON object.
type Checkpoints map[string]any

// Done reports whether the named stage completed.
func (c Checkpoints) Done(name string) bool {
	v, ok := c[name].(bool)
	return ok && v
}

// Mark records that the named stage completed.
func (c Checkpoints) Mark(name string) {
	c[name] = true
}

// Value returns the resume data stored under key.
func (c Checkpoints) Value(key string) string {
	v, _ := c[key].(string)
	return v
}

// SetValue stores resume data under key.
func (c Checkpoints) SetValue(key, value string) {
	c[key] = value
}

// Delete drops a flag or value.
func (c Checkpoints) Delete(key string) {
	delete(c, key)
}

// Clone returns a shallow copy; values are immutable scalars.
func (c Checkpoints) Clone() Checkpoints {
	out := make(Checkpoints, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
