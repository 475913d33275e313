package fileloader

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casefile/app/evtx"
)

type fakeEvents struct {
	events []evtx.Event
}

func (f *fakeEvents) Next() (evtx.Event, error) {
	if len(f.events) == 0 {
		return evtx.Event{}, io.EOF
	}
	ev := f.events[0]
	f.events = f.events[1:]
	return ev, nil
}

func (f *fakeEvents) Skipped() int { return 1 }

func event(id string, data ...string) evtx.Event {
	ev := evtx.Event{System: map[string]string{"EventID": id, "Channel": "Security"}, Data: map[string]string{}}
	for i := 0; i+1 < len(data); i += 2 {
		ev.Data[data[i]] = data[i+1]
		ev.DataKeys = append(ev.DataKeys, data[i])
	}
	return ev
}

func TestReadEvents_SchemaFromSample(t *testing.T) {
	src := &fakeEvents{events: []evtx.Event{
		event("4624", "TargetUserName", "alice", "LogonType", "3"),
		event("4688", "NewProcessName", "cmd.exe"),
		event("4624", "TargetUserName", "bob", "IpAddress", "10.0.0.5"),
	}}
	sink := &memSink{}
	res, err := readEvents(context.Background(), src, sink, Options{SchemaSampleEvents: 2, BatchSize: 2})
	require.NoError(t, err)

	want := append(append([]string(nil), evtx.SystemFields...), "LogonType", "NewProcessName", "TargetUserName")
	assert.Equal(t, want, res.Headers)
	assert.EqualValues(t, 3, res.Rows)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []string{"4624", "4688", "4624"}, sink.column("EventID"))
	assert.Equal(t, []string{"alice", "", "bob"}, sink.column("TargetUserName"))
	assert.Nil(t, sink.column("IpAddress"))
	for _, row := range sink.rows {
		assert.Len(t, row, len(want))
	}
}

func TestReadEvents_ShortFileFinalisesAtEnd(t *testing.T) {
	src := &fakeEvents{events: []evtx.Event{
		event("1", "A", "x"),
		event("2", "B", "y"),
	}}
	sink := &memSink{}
	res, err := readEvents(context.Background(), src, sink, Options{SchemaSampleEvents: 500})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", ""}, sink.column("A"))
	assert.Equal(t, []string{"", "y"}, sink.column("B"))
	assert.EqualValues(t, 2, res.Rows)
}
