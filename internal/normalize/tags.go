package normalize

import "strings"

// tagRule maps a category label to the keywords that imply it.
type tagRule struct {
	Tag      string
	Keywords []string
}

var tagRules = []tagRule{
	{"AI", []string{" ai ", "ai-", "artificial intelligence", "llm", "gpt", "generative", "neural", "machine learning", " ml "}},
	{"Biotech", []string{"biotech", "pharma", "life science", "biology", "genomics", "medtech", "nucleate"}},
	{"Startup", []string{"startup", "founder", "entrepreneur", "pitch", "incubator", "accelerator", "venture"}},
	{"Fintech", []string{"fintech", "finance", "crypto", "blockchain", "bitcoin", "web3", "defi"}},
	{"Robotics", []string{"robot", "drone", "autonomous", "hardware"}},
	{"Engineering", []string{"engineering", "developer", "coding", "software", "devops", "cloud", " api"}},
	{"Networking", []string{"networking", "mixer", "meetup", "social", "gathering", "coffee"}},
	{"Hackathon", []string{"hackathon", "jam", "challenge", "competition"}},
	{"Workshop", []string{"workshop", "tutorial", "bootcamp", "class", "course", "training"}},
	{"Conference", []string{"conference", "summit", "symposium", "expo", "forum"}},
	{"Academic", []string{" mit ", "harvard", "tufts", " bu ", "northeastern", "university", "research"}},
	{"VC", []string{"venture capital", "angel", "investor", "fundraising"}},
}

// Tags derives category labels from an event's title and description.
func Tags(title, description string) []string {
	// Padding lets short keywords like " ai " match at the edges.
	text := " " + strings.ToLower(title+" "+description) + " "
	text = strings.NewReplacer(",", " ", ".", " ", ":", " ", "!", " ", "?", " ", "(", " ", ")", " ").Replace(text)

	var tags []string
	for _, rule := range tagRules {
		for _, kw := range rule.Keywords {
			if strings.Contains(text, kw) {
				tags = append(tags, rule.Tag)
				break
			}
		}
	}
	return tags
}
