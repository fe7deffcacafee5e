// Package local provides a deterministic, dependency-free embeddings provider.
//
// Vectors are produced by hashing bag-of-words tokens into a fixed number of
// dimensions and L2-normalizing the result, so the same text always yields the
// same vector and cosine distance behaves as expected. This is not a semantic
// model: records whose payloads share clinical vocabulary land close together,
// paraphrases do not. It exists for air-gapped deployments and for tests that
// need real vectors without a live model. Production deployments use the
// openai or ollama providers instead.
package local

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/clinvox/clinvox/pkg/clinerr"
	"github.com/clinvox/clinvox/pkg/provider/embeddings"
)

// DefaultDimensions matches the corpus index schema.
const DefaultDimensions = 384

// Ensure Provider implements the embeddings.Provider interface.
var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider with token hashing.
type Provider struct {
	dim      int
	synonyms map[string]string
}

// config holds optional configuration for the provider.
type config struct {
	dimensions int
	synonyms   map[string]string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithDimensions overrides the vector dimensionality. All texts embedded by a
// single index must use the same value.
func WithDimensions(d int) Option {
	return func(c *config) {
		c.dimensions = d
	}
}

// WithSynonyms maps tokens to a canonical form before hashing, so that for
// example "doctora" and "médico" share a dimension. Keys are matched against
// lowercased, accent-folded tokens.
func WithSynonyms(syn map[string]string) Option {
	return func(c *config) {
		c.synonyms = syn
	}
}

// New constructs a local hashing Provider.
func New(opts ...Option) (*Provider, error) {
	cfg := &config{dimensions: DefaultDimensions}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.dimensions <= 0 {
		return nil, fmt.Errorf("local embeddings: dimensions must be positive")
	}
	return &Provider{dim: cfg.dimensions, synonyms: cfg.synonyms}, nil
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	return p.embedOne(text), nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		out[i] = p.embedOne(t)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	return p.dim
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return fmt.Sprintf("bow-hash-%d", p.dim)
}

// embedOne hashes each token into a dimension, with the hash's top bit picking
// the sign to spread collision noise, then L2-normalizes the vector. Texts
// with no usable tokens yield the zero vector.
func (p *Provider) embedOne(text string) []float32 {
	vec := make([]float32, p.dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = p.normalizeToken(w)
		if w == "" {
			continue
		}
		h := fnv.New64a()
		h.Write([]byte(w))
		sum := h.Sum64()
		idx := int(sum % uint64(p.dim))
		if sum>>63 == 1 {
			vec[idx] -= 1.0
		} else {
			vec[idx] += 1.0
		}
	}

	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq > 0 {
		norm := float32(1.0 / math.Sqrt(sumSq))
		for i, v := range vec {
			vec[i] = v * norm
		}
	}
	return vec
}

// normalizeToken strips punctuation, folds Spanish accents and drops stop
// words, returning "" for tokens that carry no signal.
func (p *Provider) normalizeToken(w string) string {
	w = strings.Trim(w, ".,;:!?¡¿()[]{}\"'«»")
	w = foldAccents(w)
	if w == "" || stopWords[w] {
		return ""
	}
	if canonical, ok := p.synonyms[w]; ok {
		return canonical
	}
	return w
}

// foldAccents maps accented Spanish vowels and ü onto their base letters so
// that "diagnóstico" and "diagnostico" hash identically.
func foldAccents(w string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case 'á', 'à', 'ä':
			return 'a'
		case 'é', 'è', 'ë':
			return 'e'
		case 'í', 'ì', 'ï':
			return 'i'
		case 'ó', 'ò', 'ö':
			return 'o'
		case 'ú', 'ù', 'ü':
			return 'u'
		}
		return r
	}, w)
}

func ctxErr(ctx context.Context) error {
	err := ctx.Err()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return clinerr.Wrap(clinerr.KindTimeout, err, "local embeddings")
	default:
		return clinerr.Wrap(clinerr.KindCancelled, err, "local embeddings")
	}
}

// stopWords are accent-folded Spanish and English function words, plus
// "paciente", which appears in every indexed payload and would otherwise add a
// shared component to all similarities.
var stopWords = map[string]bool{
	"de": true, "la": true, "el": true, "en": true, "y": true, "a": true,
	"los": true, "las": true, "del": true, "se": true, "por": true, "un": true,
	"una": true, "unos": true, "unas": true, "para": true, "con": true,
	"no": true, "su": true, "sus": true, "al": true, "lo": true, "como": true,
	"mas": true, "pero": true, "le": true, "les": true, "ya": true, "o": true,
	"e": true, "u": true, "este": true, "esta": true, "esto": true,
	"ese": true, "esa": true, "eso": true, "si": true, "porque": true,
	"entre": true, "cuando": true, "muy": true, "sin": true, "sobre": true,
	"tambien": true, "me": true, "mi": true, "te": true, "tu": true,
	"hasta": true, "hay": true, "donde": true, "desde": true, "todo": true,
	"nos": true, "durante": true, "ni": true, "que": true, "es": true,
	"son": true, "fue": true, "ha": true, "han": true, "ser": true,
	"estar": true, "tiene": true, "tengo": true, "the": true, "and": true,
	"an": true, "of": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "with": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "it": true, "its": true,
	"this": true, "that": true, "these": true, "those": true, "i": true,
	"you": true, "he": true, "she": true, "they": true, "we": true,
	"my": true, "your": true, "his": true, "her": true, "their": true,
	"our": true, "as": true, "by": true, "from": true, "has": true,
	"have": true, "had": true, "do": true, "does": true, "did": true,
	"not": true, "so": true, "but": true,
	"paciente": true,
}
