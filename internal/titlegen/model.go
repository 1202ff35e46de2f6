package titlegen

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/daulet/tokenizers"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	initOnce sync.Once
	initErr  error
)

// InitRuntime loads the onnxruntime shared library. It must be called once
// before LoadModel; subsequent calls return the first result.
func InitRuntime(dylibPath string) error {
	initOnce.Do(func() {
		if dylibPath != "" {
			ort.SetSharedLibraryPath(dylibPath)
		}
		initErr = ort.InitializeEnvironment()
	})
	return initErr
}

const (
	endMarker       = "<|im_end|>"
	assistantMarker = "<|im_start|>assistant\n"
)

// Qwen-style generation settings for short title decoding.
const (
	temperature       = 0.63
	topP              = 0.85
	repetitionPenalty = 1.2
)

// Model is a process-wide generative model shared read-only across turns.
// Generation is serialized with a mutex since the underlying compute device
// does not support concurrent inference.
type Model struct {
	mu        sync.Mutex
	session   *ort.DynamicAdvancedSession
	tokenizer *tokenizers.Tokenizer
	vocabSize int64
	endToken  uint32
}

func LoadModel(modelDir string) (*Model, error) {
	tk, err := tokenizers.FromFile(filepath.Join(modelDir, "tokenizer.json"))
	if err != nil {
		return nil, fmt.Errorf("tokenizer load: %w", err)
	}

	endIDs, _ := tk.Encode(endMarker, false)
	if len(endIDs) != 1 {
		tk.Close()
		return nil, fmt.Errorf("tokenizer does not map %s to a single token", endMarker)
	}

	session, err := ort.NewDynamicAdvancedSession(
		filepath.Join(modelDir, "model.onnx"),
		[]string{"input_ids"},
		[]string{"logits"},
		nil,
	)
	if err != nil {
		tk.Close()
		return nil, fmt.Errorf("failed to create onnx session: %w", err)
	}

	return &Model{
		session:   session,
		tokenizer: tk,
		vocabSize: int64(tk.VocabSize()),
		endToken:  endIDs[0],
	}, nil
}

// Generate decodes up to maxNewTokens continuation tokens for prompt and
// returns the decoded full sequence, special tokens included, so the caller
// can slice at the chat scaffold markers.
func (m *Model) Generate(ctx context.Context, prompt string, maxNewTokens int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids, _ := m.tokenizer.Encode(prompt, false)
	if len(ids) == 0 {
		return "", fmt.Errorf("prompt produced no tokens")
	}

	seq := make([]uint32, len(ids))
	copy(seq, ids)

	for i := 0; i < maxNewTokens; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		logits, err := m.forward(seq)
		if err != nil {
			return "", err
		}

		next := sampleToken(logits, seq, temperature, topP, repetitionPenalty)
		seq = append(seq, next)
		if next == m.endToken {
			break
		}
	}

	return m.tokenizer.Decode(seq, false), nil
}

// forward runs the model over the whole sequence and returns the logits of
// the final position. The sequences here are short enough that rerunning the
// full prefix each step beats carrying a KV cache through the session.
func (m *Model) forward(seq []uint32) ([]float32, error) {
	ids := make([]int64, len(seq))
	for i, v := range seq {
		ids[i] = int64(v)
	}

	seqLen := int64(len(ids))
	inT, err := ort.NewTensor(ort.NewShape(1, seqLen), ids)
	if err != nil {
		return nil, err
	}
	defer inT.Destroy()

	outT, err := ort.NewEmptyTensor[float32](ort.NewShape(1, seqLen, m.vocabSize))
	if err != nil {
		return nil, err
	}
	defer outT.Destroy()

	if err := m.session.Run([]ort.Value{inT}, []ort.Value{outT}); err != nil {
		return nil, fmt.Errorf("session run error: %w", err)
	}

	flat := outT.GetData()
	last := make([]float32, m.vocabSize)
	copy(last, flat[(seqLen-1)*m.vocabSize:seqLen*m.vocabSize])
	return last, nil
}

func (m *Model) Release() {
	m.session.Destroy()
	m.tokenizer.Close()
}
