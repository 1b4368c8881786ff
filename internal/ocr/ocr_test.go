package ocr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []call
	fn    func(name string, args []string) ([]byte, []byte, error)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{name: name, args: args})
	f.mu.Unlock()
	return f.fn(name, args)
}

func TestPDFText_SplitsPagesInOrder(t *testing.T) {
	r := &fakeRunner{fn: func(name string, args []string) ([]byte, []byte, error) {
		data, err := os.ReadFile(args[len(args)-2])
		require.NoError(t, err)
		assert.Equal(t, "%PDF-fake", string(data))
		return []byte("Page one\t\tline\n\fPage two\n\n\n\nend\n\f"), nil, nil
	}}
	tools := NewTools(Config{}, nil, WithRunner(r))

	text, pages, err := tools.PDFText(context.Background(), []byte("%PDF-fake"))
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
	assert.Equal(t, "Page one line\n\nPage two\n\nend", text)
	require.Len(t, r.calls, 1)
	assert.Equal(t, "pdftotext", r.calls[0].name)
}

func TestPDFText_RunnerError(t *testing.T) {
	r := &fakeRunner{fn: func(string, []string) ([]byte, []byte, error) {
		return nil, []byte("Syntax Error: Couldn't find trailer dictionary"), errors.New("exit status 1")
	}}
	_, _, err := NewTools(Config{}, nil, WithRunner(r)).PDFText(context.Background(), []byte("junk"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailer dictionary")
}

func TestRenderPages_NumericOrder(t *testing.T) {
	r := &fakeRunner{fn: func(name string, args []string) ([]byte, []byte, error) {
		prefix := args[len(args)-1]
		for _, n := range []int{10, 2, 1} {
			require.NoError(t, os.WriteFile(fmt.Sprintf("%s-%d.png", prefix, n), []byte(fmt.Sprintf("img%d", n)), 0o600))
		}
		return nil, nil, nil
	}}
	tools := NewTools(Config{DPI: 150}, nil, WithRunner(r))

	imgs, err := tools.RenderPages(context.Background(), []byte("%PDF"))
	require.NoError(t, err)
	require.Len(t, imgs, 3)
	assert.Equal(t, "img1", string(imgs[0]))
	assert.Equal(t, "img2", string(imgs[1]))
	assert.Equal(t, "img10", string(imgs[2]))
	assert.Equal(t, []string{"-r", "150", "-png"}, r.calls[0].args[:3])
}

func TestRenderPages_NoImages(t *testing.T) {
	r := &fakeRunner{fn: func(string, []string) ([]byte, []byte, error) { return nil, nil, nil }}
	_, err := NewTools(Config{}, nil, WithRunner(r)).RenderPages(context.Background(), []byte("%PDF"))
	assert.Error(t, err)
}

func TestTesseract_BlendsTSVConfidence(t *testing.T) {
	tsv := "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
		"5\t1\t1\t1\t1\t1\t0\t0\t10\t10\t90\tJane\n" +
		"5\t1\t1\t1\t1\t2\t0\t0\t10\t10\t70\tDoe\n" +
		"4\t1\t1\t1\t1\t0\t0\t0\t10\t10\t-1\t\n"
	r := &fakeRunner{fn: func(name string, args []string) ([]byte, []byte, error) {
		if args[len(args)-1] == "tsv" {
			return []byte(tsv), nil, nil
		}
		return []byte("Jane Doe\n-----\nSkills: Go"), nil, nil
	}}
	tools := NewTools(Config{EnableTSVConfidence: true}, nil, WithRunner(r))

	res, err := tools.Tesseract(context.Background(), []byte("png"), ".png")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\n\nSkills: Go", res.Text)
	want := 0.7*float32(0.8) + 0.3*Confidence(res.Text)
	assert.InDelta(t, want, res.Confidence, 0.001)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a b\n\nc", Normalize("a \t  b  \r\n\r\n\r\n\r\nc  "))
	assert.Equal(t, "05/2020", Normalize("05/2020"))
	assert.Equal(t, "", Normalize(""))
}

func TestConfidence(t *testing.T) {
	low := Confidence("xx")
	high := Confidence("Jane Doe jane@example.com +1 555 123 4567\nExperience 2019-2023\nEducation\nSkills")
	assert.Less(t, low, high)
	assert.LessOrEqual(t, high, float32(1.0))
}
