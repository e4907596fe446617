package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kamaleldincom/Briefs-sub000/internal/domain"
	"github.com/kamaleldincom/Briefs-sub000/internal/pipeline"
)

const (
	systemPrompt = "You are a news analyst. You compare and summarize coverage of real-world events. " +
		"Always answer with a single JSON object and no surrounding prose."

	maxPromptContentRunes = 1200
)

const analysisShape = `{
  "summary": string,
  "backgroundContext": string,
  "keyPoints": [{"point": string, "importance": "high"|"medium"|"low", "context": string}],
  "mainPerspectives": [string],
  "controversialPoints": [string],
  "perspectives": [{"source": string, "viewpoint": string, "evidence": [string]}],
  "implications": {"shortTerm": [string], "longTerm": [string]},
  "notableQuotes": [{"text": string, "source": string, "context": string}],
  "timeline": [{"timestamp": RFC3339 string, "event": string, "significance": string, "sources": [string]}],
  "relatedTopics": [string]
}`

func similarityPrompt(req pipeline.SimilarityRequest) string {
	var b strings.Builder
	b.WriteString("Do these two news stories report the same real-world event?\n\n")
	writeStoryBlock(&b, "Story A", req.Left, req.LeftEntities)
	writeStoryBlock(&b, "Story B", req.Right, req.RightEntities)
	b.WriteString(`Answer as {"isSimilar": boolean, "confidenceScore": number between 0 and 1, "reasonings": [string]}.`)
	return b.String()
}

func writeStoryBlock(b *strings.Builder, label string, story domain.Story, entities []string) {
	fmt.Fprintf(b, "%s\nTitle: %s\nSummary: %s\n", label, story.Title, story.Summary)
	if len(entities) > 0 {
		fmt.Fprintf(b, "Entities: %s\n", strings.Join(entities, ", "))
	}
	b.WriteString("\n")
}

func analyzePrompt(stories []domain.Story) string {
	var b strings.Builder
	b.WriteString("Analyze the coverage below as one evolving news story.\n\n")
	for i, story := range stories {
		fmt.Fprintf(&b, "Story %d: %s\nSummary: %s\n", i+1, story.Title, story.Summary)
		if content := truncate(story.Content, maxPromptContentRunes); content != "" {
			fmt.Fprintf(&b, "Content: %s\n", content)
		}
		for _, src := range story.Sources {
			fmt.Fprintf(&b, "- %s (%s): %s\n", src.Name, src.URL, src.Perspective)
		}
		b.WriteString("\n")
	}
	b.WriteString("Respond with JSON shaped as:\n")
	b.WriteString(analysisShape)
	return b.String()
}

func updatePrompt(existing domain.StoryAnalysis, article domain.SourceArticle) string {
	current, err := json.Marshal(existing)
	if err != nil {
		current = []byte("{}")
	}

	var b strings.Builder
	b.WriteString("A story already has this analysis:\n")
	b.Write(current)
	b.WriteString("\n\nA new article arrived:\n")
	fmt.Fprintf(&b, "Outlet: %s\nPublished: %s\nTitle: %s\nDescription: %s\n",
		article.SourceName,
		article.PublishedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		article.Title,
		article.Description,
	)
	if content := truncate(article.Content, maxPromptContentRunes); content != "" {
		fmt.Fprintf(&b, "Content: %s\n", content)
	}
	b.WriteString("\nReturn only the fields that change or gain new entries, using the shape:\n")
	b.WriteString(analysisShape)
	return b.String()
}

func truncate(value string, limit int) string {
	runes := []rune(strings.TrimSpace(value))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit]) + "…"
}
