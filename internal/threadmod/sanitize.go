package threadmod

// sanitizeText strips markup from user-supplied text before it is stored or echoed back to other agents.
func (m *Mod) sanitizeText(text string) string {
	return m.sanitize.Sanitize(text)
}
