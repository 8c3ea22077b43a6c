package compose

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// StaticGenerator is an offline Generator that derives a draft from the
// prompt itself. The same prompt always yields the same draft.
type StaticGenerator struct{}

// Model implements Generator.
func (StaticGenerator) Model() string { return "static" }

var keys = []string{"C Minor", "D Dorian", "E Phrygian", "F Lydian", "A Minor", "B♭ Major"}

// Generate implements Generator.
func (StaticGenerator) Generate(ctx context.Context, prompt string) (*Draft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := fnv.New32a()
	h.Write([]byte(prompt))
	sum := h.Sum32()

	request := prompt
	for _, line := range strings.Split(prompt, "\n") {
		if after, ok := strings.CutPrefix(line, "User Request: "); ok {
			request = after
			break
		}
	}
	words := strings.Fields(request)
	if len(words) > 3 {
		words = words[:3]
	}
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	title := strings.Join(words, " ")

	return &Draft{
		Title:             title,
		Description:       request,
		Instrumentation:   []string{Instruments[sum%uint32(len(Instruments))], Instruments[(sum/7)%uint32(len(Instruments))]},
		SuggestedDuration: 120 + int(sum%121),
		KeySignature:      keys[sum%uint32(len(keys))],
	}, nil
}
