package intake

import (
	"context"
	"testing"

	"github.com/grovetools/trail/errors"
	"github.com/grovetools/trail/internal/daemon/bus"
	"github.com/grovetools/trail/pkg/models"
	"github.com/grovetools/trail/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubQuerier struct {
	resp bus.Response
	reqs []bus.Request
}

func (s *stubQuerier) Query(_ context.Context, req bus.Request) bus.Response {
	s.reqs = append(s.reqs, req)
	return s.resp
}

func newIntake(t *testing.T, q Querier, ignore ...string) (*Intake, *bus.Bus, *testutil.RecordingEmitter) {
	t.Helper()

	b := bus.New()
	em := &testutil.RecordingEmitter{}
	in, err := New(b, q, em, ignore, testutil.Logger("intake"))
	require.NoError(t, err)
	return in, b, em
}

func nextEvent(t *testing.T, b *bus.Bus) bus.Event {
	t.Helper()
	require.Equal(t, 1, b.Len())
	ev, err := b.Next(context.Background())
	require.NoError(t, err)
	return ev
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    models.Command
		wantErr bool
	}{
		{
			name:  "add watched files",
			input: `{"cmd":"addWatchedFiles","watchedFiles":["/a","/b"]}`,
			want:  models.Command{Cmd: models.CmdAddWatchedFiles, WatchedFiles: []string{"/a", "/b"}},
		},
		{
			name:  "empty watch list clears the set",
			input: `{"cmd":"addWatchedFiles","watchedFiles":[]}`,
			want:  models.Command{Cmd: models.CmdAddWatchedFiles, WatchedFiles: []string{}},
		},
		{
			name:  "select file",
			input: `{"cmd":"selectFile","selectFile":"/a.txt"}`,
			want:  models.Command{Cmd: models.CmdSelectFile, SelectFile: "/a.txt"},
		},
		{
			name:  "refresh",
			input: `{"cmd":"refreshWatchedFileList"}`,
			want:  models.Command{Cmd: models.CmdRefreshWatchedFileList},
		},
		{name: "not json", input: `addWatchedFiles`, wantErr: true},
		{name: "no cmd", input: `{}`, wantErr: true},
		{name: "unknown cmd", input: `{"cmd":"deleteEverything"}`, wantErr: true},
		{name: "missing watchedFiles", input: `{"cmd":"addWatchedFiles"}`, wantErr: true},
		{name: "relative path", input: `{"cmd":"addWatchedFiles","watchedFiles":["a.txt"]}`, wantErr: true},
		{name: "empty path", input: `{"cmd":"addWatchedFiles","watchedFiles":[""]}`, wantErr: true},
		{name: "missing selectFile", input: `{"cmd":"selectFile"}`, wantErr: true},
		{name: "empty selectFile", input: `{"cmd":"selectFile","selectFile":""}`, wantErr: true},
		{name: "wrong type", input: `{"cmd":"addWatchedFiles","watchedFiles":"/a"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.ErrCodeProtocol), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandleRawRejectsBeforeBus(t *testing.T) {
	in, b, em := newIntake(t, &stubQuerier{})

	err := in.HandleRaw(context.Background(), []byte(`{"cmd":"nope"}`))
	require.Error(t, err)
	assert.Equal(t, 0, b.Len())

	last, ok := em.Last(models.EventError)
	require.True(t, ok)
	var payload models.ErrorPayload
	testutil.DecodePayload(t, last, &payload)
	assert.Equal(t, string(errors.ErrCodeProtocol), payload.Code)
}

func TestAddWatchedFilesSendsWatchSet(t *testing.T) {
	in, b, _ := newIntake(t, &stubQuerier{})

	err := in.HandleRaw(context.Background(),
		[]byte(`{"cmd":"addWatchedFiles","watchedFiles":["/a/../b.txt","/b.txt","/c.txt"]}`))
	require.NoError(t, err)

	ev := nextEvent(t, b)
	assert.Equal(t, bus.WatchSetUpdated{Desired: []string{"/b.txt", "/c.txt"}}, ev)
}

func TestIgnorePatterns(t *testing.T) {
	in, b, _ := newIntake(t, &stubQuerier{}, "**/*.log", "/tmp/scratch", "!/tmp/scratch/keep.txt")

	got, err := in.SetWatched([]string{
		"/var/app/out.log",
		"/tmp/scratch/a.txt",
		"/tmp/scratch/keep.txt",
		"/home/me/notes.md",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/scratch/keep.txt", "/home/me/notes.md"}, got)

	ev := nextEvent(t, b)
	assert.Equal(t, bus.WatchSetUpdated{Desired: got}, ev)
}

func TestInvalidIgnorePattern(t *testing.T) {
	_, err := New(bus.New(), &stubQuerier{}, nil, []string{"["}, testutil.Logger("intake"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeConfigValidation))
}

func TestSetIgnore(t *testing.T) {
	in, b, _ := newIntake(t, &stubQuerier{})

	require.NoError(t, in.SetIgnore([]string{"**/*.tmp"}))
	got, err := in.SetWatched([]string{"/a/x.tmp", "/a/y.txt"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/a/y.txt"}, got)
	nextEvent(t, b)

	require.Error(t, in.SetIgnore([]string{"["}))
	got, err = in.SetWatched([]string{"/a/x.tmp"})
	require.NoError(t, err)
	assert.Empty(t, got, "failed SetIgnore keeps the previous patterns")

	require.NoError(t, in.SetIgnore(nil))
	got, err = in.SetWatched([]string{"/a/x.tmp"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/a/x.tmp"}, got)
}

func TestRefreshWatchedFileList(t *testing.T) {
	q := &stubQuerier{resp: bus.Response{Kind: bus.ResponseWatchedFileList, Paths: []string{"/a"}}}
	in, _, em := newIntake(t, q)

	require.NoError(t, in.HandleRaw(context.Background(), []byte(`{"cmd":"refreshWatchedFileList"}`)))

	require.Len(t, q.reqs, 1)
	assert.Equal(t, bus.RequestWatchedFileList, q.reqs[0].Kind)

	last, ok := em.Last(models.EventRefreshWatchedFileListResponse)
	require.True(t, ok)
	assert.Equal(t, []string{"/a"}, last.Payload)
}

func TestSelectFile(t *testing.T) {
	history := []models.FileDiffResult{{ID: 7, Path: "/a", ChangeEvent: models.ChangeModified}}
	q := &stubQuerier{resp: bus.Response{Kind: bus.ResponseSelectFile, History: history}}
	in, _, em := newIntake(t, q)

	got, err := in.SelectFile(context.Background(), "/a")
	require.NoError(t, err)
	assert.Equal(t, history, got)
	assert.Equal(t, "/a", q.reqs[0].Path)

	last, ok := em.Last(models.EventSelectFileResponse)
	require.True(t, ok)
	var decoded []models.FileDiffResult
	testutil.DecodePayload(t, last, &decoded)
	require.Len(t, decoded, 1)
	assert.Equal(t, int64(7), decoded[0].ID)
}

func TestQueryErrors(t *testing.T) {
	tests := []struct {
		name     string
		resp     bus.Response
		wantCode errors.ErrorCode
	}{
		{"timeout", bus.Response{Kind: bus.ResponseError, Err: bus.ErrTimeout}, errors.ErrCodeTimeout},
		{"engine error", bus.Response{Kind: bus.ResponseError, Err: "disk full"}, errors.ErrCodeInternal},
		{"mismatched kind", bus.Response{Kind: bus.ResponseSelectFile}, errors.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, _, em := newIntake(t, &stubQuerier{resp: tt.resp})

			_, err := in.WatchedFiles(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.GetCode(err))

			events := em.Events()
			require.Len(t, events, 1)
			assert.Equal(t, models.EventError, events[0].Name)
			var payload models.ErrorPayload
			testutil.DecodePayload(t, events[0], &payload)
			assert.Equal(t, string(tt.wantCode), payload.Code)
		})
	}
}

func TestSetWatchedClosedBus(t *testing.T) {
	in, b, _ := newIntake(t, &stubQuerier{})
	b.Close()

	_, err := in.SetWatched([]string{"/a"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeDaemonUnavailable))
}
