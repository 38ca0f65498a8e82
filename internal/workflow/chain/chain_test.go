package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wfmodel "github.com/BerkeleyLibrary/willa/internal/workflow/model"
)

type fakeModel struct {
	reply string
	err   error
	seen  []*schema.Message
	opts  *model.Options
}

func (m *fakeModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.seen = input
	m.opts = model.GetCommonOptions(&model.Options{}, opts...)
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *fakeModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.seen = input
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage(m.reply, nil)}), nil
}

type fakeFactory struct {
	model *fakeModel
	asked []string
}

func (f *fakeFactory) Get(_ context.Context, name string) (model.BaseChatModel, error) {
	f.asked = append(f.asked, name)
	if f.model == nil {
		return nil, errors.New("provider not found")
	}
	return f.model, nil
}

func TestAnswerChain_Invoke(t *testing.T) {
	m := &fakeModel{reply: "Kerr was dismissed in 1967 [doc:42]."}
	f := &fakeFactory{model: m}
	temp := float32(0.2)

	out, err := NewAnswerChain(f).Invoke(context.Background(), &wfmodel.AnswerInput{
		Query:            "When was Kerr dismissed?",
		History:          []wfmodel.Exchange{{Query: "Who was Clark Kerr?", Answer: "President of the university [doc:42]."}},
		RetrievedContext: "[doc:42] Oral history of Clark Kerr\nThe regents dismissed me in January 1967.",
		Provider:         "openai",
		Temperature:      &temp,
	})
	require.NoError(t, err)
	assert.Equal(t, "Kerr was dismissed in 1967 [doc:42].", out.Content)
	assert.Equal(t, []string{"openai"}, f.asked)

	require.Len(t, m.seen, 4)
	assert.Equal(t, schema.System, m.seen[0].Role)
	assert.Contains(t, m.seen[0].Content, "The regents dismissed me in January 1967.")
	assert.Equal(t, schema.User, m.seen[1].Role)
	assert.Equal(t, "Who was Clark Kerr?", m.seen[1].Content)
	assert.Equal(t, schema.Assistant, m.seen[2].Role)
	assert.Equal(t, "When was Kerr dismissed?", m.seen[3].Content)
	require.NotNil(t, m.opts.Temperature)
	assert.Equal(t, temp, *m.opts.Temperature)
}

func TestAnswerChain_Direct(t *testing.T) {
	m := &fakeModel{reply: "Hello!"}
	_, err := NewAnswerChain(&fakeFactory{model: m}).Invoke(context.Background(), &wfmodel.AnswerInput{Query: "hi", Direct: true})
	require.NoError(t, err)
	require.Len(t, m.seen, 2)
	assert.NotContains(t, m.seen[0].Content, "Excerpts:")
}

func TestAnswerChain_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewAnswerChain(nil).Invoke(ctx, &wfmodel.AnswerInput{Query: "q"})
	require.Error(t, err)

	_, err = NewAnswerChain(&fakeFactory{model: &fakeModel{}}).Invoke(ctx, &wfmodel.AnswerInput{Query: "  "})
	require.Error(t, err)

	_, err = NewAnswerChain(&fakeFactory{}).Invoke(ctx, &wfmodel.AnswerInput{Query: "q"})
	require.Error(t, err)

	boom := errors.New("429 too many requests")
	_, err = NewAnswerChain(&fakeFactory{model: &fakeModel{err: boom}}).Invoke(ctx, &wfmodel.AnswerInput{Query: "q"})
	require.ErrorIs(t, err, boom)
}

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name    string
		content string
		trivial bool
		wantErr bool
	}{
		{name: "json", content: `{"trivial": true, "reason": "greeting"}`, trivial: true},
		{name: "fenced json", content: "```json\n{\"trivial\": false, \"reason\": \"asks about Kerr\"}\n```", trivial: false},
		{name: "bare word", content: "Trivial.", trivial: true},
		{name: "retrieve", content: "retrieve", trivial: false},
		{name: "garbage", content: "I think maybe", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ParseClassification(schema.AssistantMessage(tt.content, nil))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.trivial, out.Trivial)
		})
	}
}

func TestClassifyChain_UsesTemperatureZero(t *testing.T) {
	m := &fakeModel{reply: `{"trivial": true}`}
	out, err := NewClassifyChain(&fakeFactory{model: m}).Invoke(context.Background(), &wfmodel.ClassifyInput{Query: "thanks!"})
	require.NoError(t, err)
	assert.True(t, out.Trivial)
	require.NotNil(t, m.opts.Temperature)
	assert.Zero(t, *m.opts.Temperature)
	assert.Contains(t, m.seen[len(m.seen)-1].Content, "(no earlier messages)")
}

func TestRewriteChain(t *testing.T) {
	ctx := context.Background()

	t.Run("no history skips the model", func(t *testing.T) {
		f := &fakeFactory{model: &fakeModel{reply: "unused"}}
		q, err := NewRewriteChain(f).Invoke(ctx, &wfmodel.RewriteInput{Query: " Who was Savio? "})
		require.NoError(t, err)
		assert.Equal(t, "Who was Savio?", q)
		assert.Empty(t, f.asked)
	})

	t.Run("keeps the first line", func(t *testing.T) {
		m := &fakeModel{reply: "\"Mario Savio speech Sproul Hall 1964\"\nBecause the user asked..."}
		q, err := NewRewriteChain(&fakeFactory{model: m}).Invoke(ctx, &wfmodel.RewriteInput{
			Query:   "What did he say there?",
			History: []wfmodel.Exchange{{Query: "Who spoke at Sproul Hall?", Answer: "Mario Savio."}},
		})
		require.NoError(t, err)
		assert.Equal(t, "Mario Savio speech Sproul Hall 1964", q)
		assert.Contains(t, m.seen[len(m.seen)-1].Content, "User: Who spoke at Sproul Hall?")
	})

	t.Run("empty output is an error", func(t *testing.T) {
		m := &fakeModel{reply: "  "}
		_, err := NewRewriteChain(&fakeFactory{model: m}).Invoke(ctx, &wfmodel.RewriteInput{
			Query:   "and then?",
			History: []wfmodel.Exchange{{Query: "q", Answer: "a"}},
		})
		require.Error(t, err)
	})
}
