package workflow

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"multisvg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSVG = `<svg xmlns="http://www.w3.org/2000/svg"><path id="black" d="M0 0L10 10"/></svg>`

// fakeConverter answers with a fixed result once release is closed.
type fakeConverter struct {
	calls   atomic.Int32
	release chan struct{}
	result  *models.ConversionResult
	err     error

	mu   sync.Mutex
	reqs []models.ConversionRequest
}

func newFakeConverter(result *models.ConversionResult, err error) *fakeConverter {
	return &fakeConverter{release: make(chan struct{}), result: result, err: err}
}

func (f *fakeConverter) Convert(_ context.Context, req models.ConversionRequest) (*models.ConversionResult, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	<-f.release
	return f.result, f.err
}

func (f *fakeConverter) answer() { close(f.release) }

func newTestController(conv Converter, previews PreviewStore) *Controller {
	return NewController(conv, previews, Options{TickInterval: 5 * time.Millisecond})
}

func processingTime(v float64) *float64 { return &v }

func submitAndWait(t *testing.T, c *Controller, conv *fakeConverter) {
	t.Helper()

	done, err := c.Submit(context.Background())
	require.NoError(t, err)
	conv.answer()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("submission did not settle")
	}
}

func TestSelectFile_ReleasesSupersededPreviews(t *testing.T) {
	previews := NewMemoryPreviewStore()
	c := newTestController(newFakeConverter(nil, nil), previews)
	ctx := context.Background()

	for _, name := range []string{"a.svg", "b.SVG", "c.svg"} {
		require.NoError(t, c.SelectFile(ctx, name, []byte(testSVG)))
	}

	allocated, released, live := previews.Stats()
	assert.Equal(t, 3, allocated)
	assert.Equal(t, allocated-1, released)
	assert.Equal(t, 1, live)

	snap := c.Snapshot()
	assert.Equal(t, FileSelected, snap.State)
	assert.Equal(t, "c.svg", snap.Filename)

	content, err := previews.Open(ctx, snap.PreviewID)
	require.NoError(t, err)
	assert.Equal(t, testSVG, string(content))

	require.NoError(t, c.Close(ctx))
	allocated, released, live = previews.Stats()
	assert.Equal(t, allocated, released)
	assert.Zero(t, live)
}

func TestSelectFile_FiltersByExtensionOnly(t *testing.T) {
	previews := NewMemoryPreviewStore()
	c := newTestController(newFakeConverter(nil, nil), previews)

	err := c.SelectFile(context.Background(), "drawing.png", []byte(testSVG))
	assert.ErrorIs(t, err, ErrUnsupportedFile)
	assert.Equal(t, Idle, c.Snapshot().State)

	// Content is not inspected.
	require.NoError(t, c.SelectFile(context.Background(), "notes.svg", []byte("plain text")))
	assert.Equal(t, FileSelected, c.Snapshot().State)

	allocated, _, _ := previews.Stats()
	assert.Equal(t, 1, allocated)
}

func TestSubmit_WithoutFileIssuesNoRequest(t *testing.T) {
	conv := newFakeConverter(nil, nil)
	c := newTestController(conv, NewMemoryPreviewStore())

	done, err := c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrNoFile)
	assert.Nil(t, done)
	assert.Zero(t, conv.calls.Load())
	assert.Equal(t, Idle, c.Snapshot().State)
}

func TestSubmit_IsSingleFlight(t *testing.T) {
	conv := newFakeConverter(&models.ConversionResult{Success: true, DownloadURL: "/api/download/files.zip"}, nil)
	c := newTestController(conv, NewMemoryPreviewStore())
	ctx := context.Background()
	require.NoError(t, c.SelectFile(ctx, "part.svg", []byte(testSVG)))

	done, err := c.Submit(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var busy atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Submit(ctx); errors.Is(err, ErrBusy) {
				busy.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), busy.Load())
	assert.ErrorIs(t, c.SelectFile(ctx, "other.svg", []byte(testSVG)), ErrBusy)

	conv.answer()
	<-done
	assert.Equal(t, int32(1), conv.calls.Load())
}

func TestSubmit_SendsCurrentParams(t *testing.T) {
	conv := newFakeConverter(&models.ConversionResult{Success: true, DownloadURL: "/x"}, nil)
	c := newTestController(conv, NewMemoryPreviewStore())
	ctx := context.Background()

	require.NoError(t, c.SelectFile(ctx, "part.svg", []byte(testSVG)))
	require.NoError(t, c.SetSpeed(1250))
	submitAndWait(t, c, conv)

	require.Len(t, conv.reqs, 1)
	req := conv.reqs[0]
	assert.Equal(t, "part.svg", req.Filename)
	assert.Equal(t, []byte(testSVG), req.File)
	assert.Equal(t, 1250.0, req.Params.Speed)
	assert.Equal(t, models.ModeDrilling, req.Params.Mode)
}

func TestSubmit_OutcomeInterpretation(t *testing.T) {
	cases := []struct {
		name        string
		result      *models.ConversionResult
		err         error
		wantSuccess bool
		wantURL     string
		wantTime    *float64
		wantMessage string
	}{
		{
			name:        "success",
			result:      &models.ConversionResult{Success: true, DownloadURL: "/files/out.gcode", ProcessingTime: processingTime(2.3)},
			wantSuccess: true,
			wantURL:     "/files/out.gcode",
			wantTime:    processingTime(2.3),
		},
		{
			name:        "server failure",
			result:      &models.ConversionResult{Success: false, Message: "Invalid SVG"},
			wantMessage: "Invalid SVG",
		},
		{
			name:        "server failure without message",
			result:      &models.ConversionResult{Success: false},
			wantMessage: FallbackMessage,
		},
		{
			name:        "success without locator",
			result:      &models.ConversionResult{Success: true},
			wantMessage: FallbackMessage,
		},
		{
			name:        "transport error",
			err:         errors.New("connection refused"),
			wantMessage: FallbackMessage,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conv := newFakeConverter(tc.result, tc.err)
			c := newTestController(conv, NewMemoryPreviewStore())
			require.NoError(t, c.SelectFile(context.Background(), "part.svg", []byte(testSVG)))

			submitAndWait(t, c, conv)

			snap := c.Snapshot()
			require.Equal(t, Completed, snap.State)
			require.NotNil(t, snap.Result)
			assert.Equal(t, tc.wantSuccess, snap.Result.Success)
			assert.Equal(t, tc.wantURL, snap.Result.DownloadURL)
			assert.Equal(t, tc.wantTime, snap.Result.ProcessingTime)
			assert.Equal(t, tc.wantMessage, snap.Result.Message)
		})
	}
}

func TestElapsed_IncreasesWhileProcessingThenFreezes(t *testing.T) {
	conv := newFakeConverter(&models.ConversionResult{Success: true, DownloadURL: "/x"}, nil)
	c := newTestController(conv, NewMemoryPreviewStore())
	ctx := context.Background()
	require.NoError(t, c.SelectFile(ctx, "part.svg", []byte(testSVG)))

	done, err := c.Submit(ctx)
	require.NoError(t, err)

	var samples []time.Duration
	require.Eventually(t, func() bool {
		samples = append(samples, c.Snapshot().Elapsed)
		return len(samples) > 3 && samples[len(samples)-1] > 20*time.Millisecond
	}, 2*time.Second, 7*time.Millisecond)

	for i := 1; i < len(samples); i++ {
		assert.GreaterOrEqual(t, samples[i], samples[i-1])
	}

	conv.answer()
	<-done

	final := c.Snapshot().Elapsed
	assert.GreaterOrEqual(t, final, samples[len(samples)-1])
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, final, c.Snapshot().Elapsed)
}

func TestClear_FromCompletedResetsEverything(t *testing.T) {
	previews := NewMemoryPreviewStore()
	conv := newFakeConverter(&models.ConversionResult{Success: true, DownloadURL: "/x"}, nil)
	c := newTestController(conv, previews)
	ctx := context.Background()
	require.NoError(t, c.SelectFile(ctx, "part.svg", []byte(testSVG)))
	submitAndWait(t, c, conv)

	require.NoError(t, c.Clear(ctx))

	snap := c.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Empty(t, snap.Filename)
	assert.Empty(t, snap.PreviewID)
	assert.Nil(t, snap.Result)
	assert.Zero(t, snap.Elapsed)

	_, _, live := previews.Stats()
	assert.Zero(t, live)

	_, err := c.Submit(ctx)
	assert.ErrorIs(t, err, ErrNoFile)
}

func TestClearResult_KeepsFile(t *testing.T) {
	conv := newFakeConverter(&models.ConversionResult{Success: false, Message: "Invalid SVG"}, nil)
	c := newTestController(conv, NewMemoryPreviewStore())
	ctx := context.Background()
	require.NoError(t, c.SelectFile(ctx, "part.svg", []byte(testSVG)))
	submitAndWait(t, c, conv)

	require.NoError(t, c.ClearResult())

	snap := c.Snapshot()
	assert.Equal(t, FileSelected, snap.State)
	assert.Equal(t, "part.svg", snap.Filename)
	assert.NotEmpty(t, snap.PreviewID)
	assert.Nil(t, snap.Result)
}

func TestClear_DuringProcessingDiscardsLateOutcome(t *testing.T) {
	conv := newFakeConverter(&models.ConversionResult{Success: true, DownloadURL: "/x"}, nil)
	c := newTestController(conv, NewMemoryPreviewStore())
	ctx := context.Background()
	require.NoError(t, c.SelectFile(ctx, "part.svg", []byte(testSVG)))

	done, err := c.Submit(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Clear(ctx))

	conv.answer()
	<-done

	snap := c.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Nil(t, snap.Result)
	assert.Zero(t, snap.Elapsed)
}

func TestSubscribe_DeliversInOrderAndStopsOnUnsubscribe(t *testing.T) {
	conv := newFakeConverter(&models.ConversionResult{Success: true, DownloadURL: "/x"}, nil)
	c := newTestController(conv, NewMemoryPreviewStore())
	ctx := context.Background()

	var mu sync.Mutex
	var kinds []EventKind
	unsubscribe := c.Subscribe(func(ev Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})

	require.NoError(t, c.SelectFile(ctx, "part.svg", []byte(testSVG)))
	done, err := c.Submit(ctx)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	conv.answer()
	<-done
	time.Sleep(20 * time.Millisecond)

	unsubscribe()
	require.NoError(t, c.Clear(ctx))

	mu.Lock()
	defer mu.Unlock()

	require.GreaterOrEqual(t, len(kinds), 3)
	assert.Equal(t, EventFileSelected, kinds[0])
	assert.Equal(t, EventSubmitted, kinds[1])
	assert.Equal(t, EventCompleted, kinds[len(kinds)-1])
	for _, k := range kinds[2 : len(kinds)-1] {
		assert.Equal(t, EventTick, k)
	}
}

func TestClose_RejectsFurtherUse(t *testing.T) {
	c := newTestController(newFakeConverter(nil, nil), NewMemoryPreviewStore())
	ctx := context.Background()

	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx))

	assert.ErrorIs(t, c.SelectFile(ctx, "part.svg", []byte(testSVG)), ErrClosed)
	assert.ErrorIs(t, c.SetSpeed(10), ErrClosed)
	_, err := c.Submit(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRepeater_StopHaltsCalls(t *testing.T) {
	var calls atomic.Int32
	r := Repeat(2*time.Millisecond, func() { calls.Add(1) })

	require.Eventually(t, func() bool { return calls.Load() > 0 }, time.Second, time.Millisecond)
	r.Stop()
	r.Stop()

	// A call racing with Stop may still land.
	time.Sleep(5 * time.Millisecond)
	settled := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, calls.Load())
}

func TestSubmit_AbandonedRequestStillBlocksResubmit(t *testing.T) {
	conv := newFakeConverter(&models.ConversionResult{Success: true, DownloadURL: "/x"}, nil)
	c := newTestController(conv, NewMemoryPreviewStore())
	ctx := context.Background()

	require.NoError(t, c.SelectFile(ctx, "a.svg", []byte(testSVG)))
	first, err := c.Submit(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Clear(ctx))

	require.NoError(t, c.SelectFile(ctx, "b.svg", []byte(testSVG)))
	_, err = c.Submit(ctx)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, FileSelected, c.Snapshot().State)
	assert.Equal(t, int32(1), conv.calls.Load())

	conv.answer()
	<-first

	second, err := c.Submit(ctx)
	require.NoError(t, err)
	<-second

	snap := c.Snapshot()
	assert.Equal(t, Completed, snap.State)
	assert.Equal(t, "b.svg", snap.Filename)
	assert.Equal(t, int32(2), conv.calls.Load())
}

func TestSetParams_RejectsNonFiniteSpeed(t *testing.T) {
	c := newTestController(newFakeConverter(nil, nil), NewMemoryPreviewStore())

	assert.ErrorIs(t, c.SetSpeed(math.NaN()), models.ErrInvalidParams)
	assert.ErrorIs(t, c.SetSpeed(math.Inf(1)), models.ErrInvalidParams)
	assert.Equal(t, models.DefaultParams(), c.Snapshot().Params)

	require.NoError(t, c.SetSpeed(450))
	assert.Equal(t, 450.0, c.Snapshot().Params.Speed)
}

func TestClose_ReleasesHeldPreview(t *testing.T) {
	previews := NewMemoryPreviewStore()
	c := newTestController(newFakeConverter(nil, nil), previews)
	ctx := context.Background()

	for _, name := range []string{"a.svg", "b.svg", "c.svg"} {
		require.NoError(t, c.SelectFile(ctx, name, []byte(testSVG)))
	}

	_, released, _ := previews.Stats()
	assert.Equal(t, 2, released)

	require.NoError(t, c.Close(ctx))

	allocated, released, live := previews.Stats()
	assert.Equal(t, 3, allocated)
	assert.Equal(t, allocated, released)
	assert.Zero(t, live)
}
