package agent

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"medirag/docstore"
	"medirag/types"

	"github.com/pkoukk/tiktoken-go"
)

const (
	separator  = "\n\n---\n\n"
	userPrefix = "Text from the user: "
)

// TokenCounter reports the size of an assembled prompt. It is only used
// for logging, so a failing counter never blocks a request.
type TokenCounter interface {
	Count(text string) (int, error)
}

type Assembly struct {
	Text         string
	UsedFallback bool
	Documents    int
	Tokens       int
}

// Assembler turns a user prompt and retrieved documents into the text sent
// to the model.
type Assembler struct {
	fallback string
	keywords []string
	counter  TokenCounter
	logger   *slog.Logger
}

// NewAssembler reads the product document once. A missing or empty
// fallback document is a startup error.
func NewAssembler(fallbackPath string, keywords []string, counter TokenCounter) (*Assembler, error) {
	fallback, err := docstore.ReadFallback(fallbackPath)
	if err != nil {
		return nil, err
	}
	return NewAssemblerWithFallback(fallback, keywords, counter), nil
}

func NewAssemblerWithFallback(fallback string, keywords []string, counter TokenCounter) *Assembler {
	kw := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kw = append(kw, k)
		}
	}
	return &Assembler{
		fallback: fallback,
		keywords: kw,
		counter:  counter,
		logger:   slog.Default(),
	}
}

// SystemInstruction is the fixed assistant instruction for lang.
func SystemInstruction(lang string) string {
	return fmt.Sprintf(`You are a helpful assistant.
Answer the user's questions in a concise and informative manner.
If you don't know the answer, say 'I don't know' in the respective language.
Use these to make the text more comfortable for the user:
separator: ---
Bold: **
Italicize: _
List item: *
Titles: #
Subtitles: ##
Sub subtitles: ###
You will not be able to answer any question that it is not related to health, medicine, pills/drugs or, our app, if the user's text is not about any of those topics, you will reject the answer on a polite way.
Use emojis to make your response more engaging.
If the user asks for a summary, provide it in a concise manner.

Respond only in this language: %s only if the user does not specify a language, otherwise, respond in the language specified by the user.`, lang)
}

func (a *Assembler) Assemble(prompt, lang string, docs []types.ScoredDocument) Assembly {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if c := strings.TrimSpace(d.Content); c != "" {
			parts = append(parts, c)
		}
	}
	body := strings.Join(parts, separator)

	usedFallback := false
	if matched := a.matchedKeywords(prompt); len(matched) > 0 && !mentionsAny(docs, matched) {
		body = a.fallback
		usedFallback = true
	}
	if body == "" {
		body = fmt.Sprintf(`Context: the user wrote: "%s"`, prompt)
	}

	var sb strings.Builder
	sb.WriteString(SystemInstruction(lang))
	sb.WriteString(separator)
	sb.WriteString(body)
	sb.WriteString(separator)
	sb.WriteString(userPrefix)
	sb.WriteString(prompt)

	out := Assembly{
		Text:         sb.String(),
		UsedFallback: usedFallback,
		Documents:    len(parts),
	}
	if a.counter != nil {
		n, err := a.counter.Count(out.Text)
		if err != nil {
			a.logger.Warn("[PROMPT] token count failed", "error", err)
		}
		out.Tokens = n
	}
	return out
}

func (a *Assembler) matchedKeywords(prompt string) []string {
	p := strings.ToLower(prompt)
	var matched []string
	for _, k := range a.keywords {
		if strings.Contains(p, k) {
			matched = append(matched, k)
		}
	}
	return matched
}

// mentionsAny matches whole words only: label text is full of "apply" and
// "appear", which must not count as mentioning the app.
func mentionsAny(docs []types.ScoredDocument, keywords []string) bool {
	for _, d := range docs {
		text := strings.ToLower(d.Name + "\n" + d.Content)
		for _, k := range keywords {
			if containsWord(text, k) {
				return true
			}
		}
	}
	return false
}

func containsWord(text, word string) bool {
	for from := 0; from <= len(text)-len(word); {
		i := strings.Index(text[from:], word)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(word)
		before, _ := utf8.DecodeLastRuneInString(text[:start])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if !isWordRune(before) && !isWordRune(after) {
			return true
		}
		from = start + 1
	}
	return false
}

func isWordRune(r rune) bool {
	return r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

// TiktokenCounter counts tokens with the cl100k_base encoding. The
// encoding is loaded lazily on first use.
type TiktokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

func (t *TiktokenCounter) Count(text string) (int, error) {
	t.once.Do(func() {
		t.enc, t.err = tiktoken.EncodingForModel("gpt-3.5-turbo")
	})
	if t.err != nil {
		return 0, t.err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}
