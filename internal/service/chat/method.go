// Package chat answers questions about a document: it assembles grounding context,
// builds the prompt and drives the provider chain.
package chat

import "fmt"

// Method records where the grounding text of an answer came from.
type Method int

const (
	MethodFullContent Method = iota
	MethodAIResources
	MethodEmbedding
)

func (m Method) String() string {
	switch m {
	case MethodAIResources:
		return "ai-resources"
	case MethodEmbedding:
		return "embedding"
	case MethodFullContent:
		return "full-content"
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Method) UnmarshalText(b []byte) error {
	switch string(b) {
	case "ai-resources":
		*m = MethodAIResources
	case "embedding":
		*m = MethodEmbedding
	case "full-content":
		*m = MethodFullContent
	default:
		return fmt.Errorf("unknown method %q", b)
	}
	return nil
}
