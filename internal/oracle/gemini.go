package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

// DefaultModel is used when GeminiConfig.Model is empty.
const DefaultModel = "gemma-3-27b-it"

// GeminiConfig configures the Gemini oracle.
type GeminiConfig struct {
	APIKey          string
	Model           string
	Timeout         time.Duration
	Temperature     float32
	MaxOutputTokens int32
}

// Gemini evaluates conversations with the Gemini API.
type Gemini struct {
	client *genai.Client
	cfg    GeminiConfig
}

var _ Oracle = (*Gemini)(nil)

// NewGemini creates a Gemini oracle.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = 500
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &Gemini{client: client, cfg: cfg}, nil
}

// Model returns the configured model name.
func (g *Gemini) Model() string { return g.cfg.Model }

// Evaluate sends the conversation and parses the reply.
func (g *Gemini) Evaluate(ctx context.Context, s State) (Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	contents := Contents(s)
	result, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(g.cfg.Temperature),
		MaxOutputTokens: g.cfg.MaxOutputTokens,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Reply{}, fmt.Errorf("%w: timed out after %s", model.ErrOracleUnavailable, g.cfg.Timeout)
		}
		return Reply{}, fmt.Errorf("%w: %v", model.ErrOracleUnavailable, err)
	}
	text := result.Text()
	if text == "" {
		return Reply{}, fmt.Errorf("%w: empty response", model.ErrOracleUnavailable)
	}
	reply, err := Parse([]byte(text))
	if err != nil {
		slog.Warn("oracle: unparseable reply", "model", g.cfg.Model, "raw", truncate(text, 200), "err", err)
		return Reply{}, err
	}
	return reply, nil
}

// Contents builds the request body for s. The instructions go first as a
// user turn followed by a model acknowledgement, since not every model
// accepts a system instruction. Raw proof bytes are attached only for
// s.NewProof; older proofs are referenced by ID.
func Contents(s State) []*genai.Content {
	contents := []*genai.Content{
		genai.NewContentFromText(SystemPrompt(s), genai.RoleUser),
		genai.NewContentFromText(promptAck, genai.RoleModel),
	}
	for _, t := range s.Turns {
		role := genai.Role(genai.RoleUser)
		if t.Role == model.RoleOracle {
			role = genai.RoleModel
		}
		var parts []*genai.Part
		switch {
		case t.Role == model.RoleOracle:
			// Transcript oracle turns are always questions; echo them in
			// the format the model is asked to answer in.
			parts = append(parts, genai.NewPartFromText(string(Encode(Clarify(t.Text)))))
		case t.Text != "":
			parts = append(parts, genai.NewPartFromText(t.Text))
		}
		if t.ProofRef != "" {
			if s.NewProof != nil && s.NewProof.ID == t.ProofRef && len(s.NewProof.Data) > 0 {
				parts = append(parts, genai.NewPartFromBytes(s.NewProof.Data, s.NewProof.MIMEType))
			} else {
				parts = append(parts, genai.NewPartFromText(proofNote(t.ProofRef)))
			}
		}
		if len(parts) > 0 {
			contents = append(contents, genai.NewContentFromParts(parts, role))
		}
	}
	return contents
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + "..."
		}
		i++
	}
	return s
}
