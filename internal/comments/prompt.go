package comments

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/xgrowth/internal/store"
)

const systemPrompt = `You are a reply assistant for X (Twitter).

Persona:
- Expertise: %s
- Tone: %s
- Preferred keywords: %s
- Topics to avoid: %s

Example replies:
%s
Task: write one reply to an X post.

Rules:
1. Language: the reply must be written in the same language as the post (Chinese, English, Japanese, ...).
2. Length: 80-250 characters (about 40-120 Chinese characters).
3. Style: match the persona, witty but professional.
4. Substance: add value, no empty praise, no heavy self-promotion.
5. Natural: read like a real person, a few emoji at most.
6. Avoid politics, controversy and spam.

Output only the reply text, with no label such as "Comment:" in front of it.`

const draftPrompt = `Write a reply to this post:

Author: @%s
Text: %s
Engagement: %d likes | %d reposts | %d replies
Trending score: %.2f/100
%s
Important: the reply must use the same language as the post text.
If the post is in English, reply in English; if it is in Chinese, reply in Chinese.

Write one reply in my style.`

const linkSection = `
Linked page excerpt:
%s
`

const refinePrompt = `Original reply: "%s"

Feedback: %s

Rewrite the reply according to the feedback and keep the same style.`

// Profile describes the persona replies are written in.
type Profile struct {
	Expertise     []string
	Tone          string
	Keywords      []string
	AvoidKeywords []string
	Examples      []Example
}

// Example is a sample post and the reply the persona would write.
type Example struct {
	Post    string
	Comment string
}

// SystemPrompt renders the generation system instructions for p.
func SystemPrompt(p Profile) string {
	tone := p.Tone
	if tone == "" {
		tone = "professional and friendly"
	}

	var examples strings.Builder
	for _, ex := range p.Examples {
		fmt.Fprintf(&examples, "Post: %q\nReply: %q\n\n", ex.Post, ex.Comment)
	}

	return fmt.Sprintf(systemPrompt,
		strings.Join(p.Expertise, ", "),
		tone,
		strings.Join(p.Keywords, ", "),
		strings.Join(p.AvoidKeywords, ", "),
		examples.String(),
	)
}

// DraftPrompt renders the prompt asking for a reply to post. excerpt may be empty.
func DraftPrompt(post store.Post, excerpt string) string {
	link := ""
	if excerpt != "" {
		link = fmt.Sprintf(linkSection, excerpt)
	}
	return fmt.Sprintf(draftPrompt,
		post.Author.Username,
		post.Text,
		post.LikeCount, post.RepostCount, post.ReplyCount,
		post.TrendingScore,
		link,
	)
}

// RefinePrompt renders the follow-up prompt for a rewrite of content.
func RefinePrompt(content, feedback string) string {
	return fmt.Sprintf(refinePrompt, content, feedback)
}

// labelPrefixes are labels models like to put before the reply text.
var labelPrefixes = []string{
	"评论：", "评论:", "Comment:", "回复：", "回复:",
	"生成的评论：", "生成的评论:",
	"**评论：**", "**评论:**",
}

// Clean strips label prefixes and one layer of surrounding quotes from
// generated text.
func Clean(text string) string {
	text = strings.TrimSpace(text)
	for _, prefix := range labelPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimSpace(strings.TrimPrefix(text, prefix))
		}
	}

	switch {
	case len(text) >= 2 && strings.HasPrefix(text, `"`) && strings.HasSuffix(text, `"`):
		text = text[1 : len(text)-1]
	case strings.HasPrefix(text, "“") && strings.HasSuffix(text, "”") && len(text) > len("“”"):
		text = strings.TrimSuffix(strings.TrimPrefix(text, "“"), "”")
	}
	return strings.TrimSpace(text)
}
