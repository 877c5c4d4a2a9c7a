package agent

// DefaultVocabulary is the specialization set handed out to agents that are
// added without explicit specializations.
var DefaultVocabulary = []string{"math", "language", "code", "research", "analysis"}

// SpecializationPolicy chooses specializations for an agent added without any.
type SpecializationPolicy func(agentID int) []string

// Fixed gives every agent the same specializations.
func Fixed(specs ...string) SpecializationPolicy {
	return func(int) []string {
		return append([]string(nil), specs...)
	}
}

// Rotating walks the vocabulary so that consecutive agents cover different
// tags. Agent n receives 1 + (n-1) mod maxPerAgent consecutive entries
// starting at offset n-1.
func Rotating(vocabulary []string, maxPerAgent int) SpecializationPolicy {
	vocab := append([]string(nil), vocabulary...)
	if maxPerAgent <= 0 {
		maxPerAgent = 1
	}
	return func(agentID int) []string {
		if len(vocab) == 0 {
			return nil
		}
		n := agentID - 1
		if n < 0 {
			n = 0
		}
		count := 1 + n%maxPerAgent
		if count > len(vocab) {
			count = len(vocab)
		}
		out := make([]string, 0, count)
		for i := 0; i < count; i++ {
			out = append(out, vocab[(n+i)%len(vocab)])
		}
		return out
	}
}
