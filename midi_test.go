package peal_test

import (
	"reflect"
	"testing"

	"github.com/pealaudio/peal"
)

type recordedEvent struct {
	kind    string
	time    float64
	status  byte
	channel byte
	data1   byte
	data2   byte
}

type recordingHandler struct {
	events []recordedEvent
}

func (r *recordingHandler) Sync(time float64, status byte) {
	r.events = append(r.events, recordedEvent{kind: "sync", time: time, status: status})
}

func (r *recordingHandler) Data1(time float64, status, channel, data byte) {
	r.events = append(r.events, recordedEvent{kind: "data1", time: time, status: status, channel: channel, data1: data})
}

func (r *recordingHandler) Data2(time float64, status, channel, data1, data2 byte) {
	r.events = append(r.events, recordedEvent{kind: "data2", time: time, status: status, channel: channel, data1: data1, data2: data2})
}

func TestRoute(t *testing.T) {
	tests := []struct {
		name     string
		bytes    [3]byte
		expected recordedEvent
	}{
		{"noteon", [3]byte{0x93, 60, 100}, recordedEvent{kind: "data2", time: 5, status: 0x90, channel: 3, data1: 60, data2: 100}},
		{"noteoff", [3]byte{0x80, 60, 0}, recordedEvent{kind: "data2", time: 5, status: 0x80, channel: 0, data1: 60}},
		{"controlchange", [3]byte{0xBF, 7, 127}, recordedEvent{kind: "data2", time: 5, status: 0xB0, channel: 15, data1: 7, data2: 127}},
		{"pitchbend", [3]byte{0xE1, 0x00, 0x40}, recordedEvent{kind: "data2", time: 5, status: 0xE0, channel: 1, data1: 0x00, data2: 0x40}},
		{"polyaftertouch", [3]byte{0xA5, 60, 80}, recordedEvent{kind: "data2", time: 5, status: 0xA0, channel: 5, data1: 60, data2: 80}},
		{"programchange", [3]byte{0xC2, 12, 0}, recordedEvent{kind: "data1", time: 5, status: 0xC0, channel: 2, data1: 12}},
		{"channelaftertouch", [3]byte{0xD7, 99, 0}, recordedEvent{kind: "data1", time: 5, status: 0xD0, channel: 7, data1: 99}},
		{"clock", [3]byte{0xF8, 0, 0}, recordedEvent{kind: "sync", time: 5, status: 0xF8}},
		{"start", [3]byte{0xFA, 0, 0}, recordedEvent{kind: "sync", time: 5, status: 0xFA}},
		{"continue", [3]byte{0xFB, 0, 0}, recordedEvent{kind: "sync", time: 5, status: 0xFB}},
		{"stop", [3]byte{0xFC, 0, 0}, recordedEvent{kind: "sync", time: 5, status: 0xFC}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var h recordingHandler
			peal.Route(&h, 5, test.bytes)
			if len(h.events) != 1 {
				t.Fatalf("expected 1 event, got %v", len(h.events))
			}
			if !reflect.DeepEqual(h.events[0], test.expected) {
				t.Errorf("got %v, expected %v", h.events[0], test.expected)
			}
		})
	}
}

func TestRouteSync(t *testing.T) {
	var h recordingHandler
	peal.RouteSync(&h, peal.NoPendingEvents, peal.MIDIClock)
	expected := recordedEvent{kind: "sync", time: peal.NoPendingEvents, status: peal.MIDIClock}
	if len(h.events) != 1 || !reflect.DeepEqual(h.events[0], expected) {
		t.Errorf("got %v, expected %v", h.events, expected)
	}
}
