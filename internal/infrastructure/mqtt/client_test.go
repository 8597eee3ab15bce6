package mqtt

import (
	"errors"
	"testing"
	"time"
)

// waitDone returns a done callback and a function that waits for its result.
func waitDone(t *testing.T) (func(error), func() error) {
	t.Helper()
	ch := make(chan error, 1)
	return func(err error) { ch <- err }, func() error {
		select {
		case err := <-ch:
			return err
		case <-time.After(10 * time.Second):
			t.Fatal("done callback not invoked")
			return nil
		}
	}
}

func TestConnect_BrokerRefused(t *testing.T) {
	ep := testEndpoint()
	ep.Port = 19998

	client := New(ep, Callbacks{})
	done, wait := waitDone(t)
	client.Connect(done)

	err := wait()
	if err == nil {
		t.Fatal("Connect() should fail for refused connection")
	}
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after failed connect")
	}

	// Best-effort teardown of a handle that never connected.
	client.Disconnect()
}

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}

	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
	client.Disconnect()
}

func TestOperationsRequireConnection(t *testing.T) {
	client := New(testEndpoint(), Callbacks{})

	tests := []struct {
		name string
		call func(done func(error))
		want error
	}{
		{"publish", func(d func(error)) { client.Publish("a/b", []byte("x"), d) }, ErrPublishFailed},
		{"subscribe", func(d func(error)) { client.Subscribe("a/#", d) }, ErrSubscribeFailed},
		{"unsubscribe", func(d func(error)) { client.Unsubscribe("a/#", d) }, ErrUnsubscribeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			done, wait := waitDone(t)
			tt.call(done)
			err := wait()
			if !errors.Is(err, tt.want) || !errors.Is(err, ErrNotConnected) {
				t.Errorf("error = %v, want %v wrapping ErrNotConnected", err, tt.want)
			}
		})
	}
}

func TestPublishValidation(t *testing.T) {
	client := New(testEndpoint(), Callbacks{})

	tests := []struct {
		name    string
		topic   string
		payload []byte
		want    error
	}{
		{"empty topic", "", []byte("x"), ErrInvalidTopic},
		{"wildcard topic", "a/+", []byte("x"), ErrInvalidTopic},
		{"oversized payload", "a/b", make([]byte, maxPayloadSize+1), ErrPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			done, wait := waitDone(t)
			client.Publish(tt.topic, tt.payload, done)
			if err := wait(); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribeInvalidQoS(t *testing.T) {
	ep := testEndpoint()
	ep.QoS = 3
	client := New(ep, Callbacks{})

	done, wait := waitDone(t)
	client.Subscribe("a/b", done)
	if err := wait(); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe() error = %v, want ErrInvalidQoS", err)
	}
}

func TestSubscribeInvalidFilter(t *testing.T) {
	client := New(testEndpoint(), Callbacks{})

	done, wait := waitDone(t)
	client.Subscribe("a/#/b", done)
	if err := wait(); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe() error = %v, want ErrInvalidTopic", err)
	}
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingLogger struct {
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.errors = append(l.errors, msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.warns = append(l.warns, msg) }

func TestHandleMessage_ForwardsAndRecovers(t *testing.T) {
	var gotTopic string
	var gotPayload []byte
	client := New(testEndpoint(), Callbacks{
		OnMessage: func(topic string, payload []byte) {
			gotTopic, gotPayload = topic, payload
			if topic == "panic" {
				panic("boom")
			}
		},
	})
	logger := &recordingLogger{}
	client.SetLogger(logger)

	client.handleMessage(nil, fakeMessage{topic: "a/b", payload: []byte("hello")})
	if gotTopic != "a/b" || string(gotPayload) != "hello" {
		t.Errorf("forwarded %q=%q, want a/b=hello", gotTopic, gotPayload)
	}

	client.handleMessage(nil, fakeMessage{topic: "panic"})
	if len(logger.errors) != 1 {
		t.Errorf("logged %d errors, want 1 for recovered panic", len(logger.errors))
	}
}

func TestHandleConnectionLost(t *testing.T) {
	var got error
	client := New(testEndpoint(), Callbacks{OnConnectionLost: func(err error) { got = err }})
	logger := &recordingLogger{}
	client.SetLogger(logger)

	cause := errors.New("eof")
	client.handleConnectionLost(cause)

	if !errors.Is(got, cause) {
		t.Errorf("OnConnectionLost error = %v, want %v", got, cause)
	}
	if len(logger.warns) != 1 {
		t.Errorf("logged %d warnings, want 1", len(logger.warns))
	}
}

func TestClientID(t *testing.T) {
	client := New(testEndpoint(), Callbacks{})
	if client.ClientID() != "brokerlink-test" {
		t.Errorf("ClientID() = %q, want brokerlink-test", client.ClientID())
	}
}
