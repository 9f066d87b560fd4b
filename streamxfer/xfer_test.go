package streamxfer

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/fstest"
	"testing/iotest"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/fjl/xferbench/transfer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

var testContent []byte

func init() {
	testContent = make([]byte, 100000)
	for i := range testContent {
		testContent[i] = byte(i)
	}
}

func startServer(t *testing.T, fsys fstest.MapFS) *Server {
	srv := NewServer(Config{
		Source:  transfer.Source{FS: fsys, Name: "file"},
		Metrics: transfer.NewMetrics(prometheus.NewRegistry()),
	})
	if err := srv.Listen(context.Background(), "127.0.0.1:0"); err != nil {
		t.Fatal("can't listen:", err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv
}

func fetch(t *testing.T, srv *Server, dest string) (*transfer.Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := NewClient(ClientConfig{Addr: srv.Addr().String(), Dest: dest})
	return client.Fetch(ctx)
}

func TestTransfer(t *testing.T) {
	for _, size := range []int{0, 1, 4096, 100000} {
		content := testContent[:size]
		srv := startServer(t, fstest.MapFS{"file": &fstest.MapFile{Data: content}})
		dest := filepath.Join(t.TempDir(), "received")

		res, err := fetch(t, srv, dest)
		require.NoError(t, err, "size %d", size)
		assert.EqualValues(t, size, res.Size)
		assert.EqualValues(t, size, res.Received)
		assert.True(t, res.Duration >= 0, "negative duration %v", res.Duration)
		assert.Equal(t, blake2b.Sum256(content), res.Digest)

		received, err := os.ReadFile(dest)
		require.NoError(t, err)
		if !bytes.Equal(received, content) {
			t.Fatalf("wrong file content for size %d", size)
		}
	}
}

// This test checks the raw response of the server.
func TestServerResponseFormat(t *testing.T) {
	content := testContent[:5000]
	srv := startServer(t, fstest.MapFS{"file": &fstest.MapFile{Data: content}})

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	resp, err := io.ReadAll(conn)
	require.NoError(t, err)

	require.Greater(t, len(resp), HeaderSize+len(content))
	assert.Equal(t, "5000            ", string(resp[:HeaderSize]))
	assert.Equal(t, content, resp[HeaderSize:HeaderSize+len(content)])
	_, err = transfer.ParseDuration(resp[HeaderSize+len(content):])
	assert.NoError(t, err)
}

func TestFileNotFound(t *testing.T) {
	srv := startServer(t, fstest.MapFS{})

	// Raw response is the error message, with no size header.
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	resp, err := io.ReadAll(conn)
	conn.Close()
	require.NoError(t, err)
	assert.Equal(t, transfer.FileNotFoundMessage, string(resp))

	// The client reports the full server message.
	dest := filepath.Join(t.TempDir(), "received")
	_, err = fetch(t, srv, dest)
	require.True(t, transfer.IsNotFound(err), "wrong error: %v", err)
	assert.EqualError(t, err, "server error: "+transfer.FileNotFoundMessage)
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "destination should not exist")

	// The server keeps serving.
	_, err = fetch(t, srv, dest)
	assert.True(t, transfer.IsNotFound(err))
}

// This test checks that an existing destination is replaced.
func TestDestinationReplaced(t *testing.T) {
	content := []byte("new content")
	srv := startServer(t, fstest.MapFS{"file": &fstest.MapFile{Data: content}})
	dest := filepath.Join(t.TempDir(), "received")
	require.NoError(t, os.WriteFile(dest, bytes.Repeat([]byte("old"), 1000), 0o644))

	for i := 0; i < 2; i++ {
		_, err := fetch(t, srv, dest)
		require.NoError(t, err)
		received, _ := os.ReadFile(dest)
		assert.Equal(t, content, received)
	}
}

// This test runs several clients at once. The server handles them sequentially.
func TestSequentialClients(t *testing.T) {
	srv := startServer(t, fstest.MapFS{"file": &fstest.MapFile{Data: testContent}})
	dir := t.TempDir()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dest := filepath.Join(dir, "received"+string(rune('a'+i)))
			_, errs[i] = fetch(t, srv, dest)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		assert.NoError(t, err, "client %d", i)
	}
}

func TestConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	client := NewClient(ClientConfig{Addr: addr, Dest: filepath.Join(t.TempDir(), "x")})
	_, err = client.Fetch(context.Background())
	assert.ErrorIs(t, err, transfer.ErrConnectionRefused)
}

func TestServerClose(t *testing.T) {
	srv := NewServer(Config{Source: transfer.Source{FS: fstest.MapFS{}, Name: "file"}})
	require.NoError(t, srv.Listen(context.Background(), "127.0.0.1:0"))
	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	srv.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
	assert.Error(t, srv.Listen(context.Background(), "127.0.0.1:0"))
}

type delayWriter struct {
	w     io.Writer
	clock *mclock.Simulated
	delay time.Duration
}

func (dw *delayWriter) Write(b []byte) (int, error) {
	dw.clock.Run(dw.delay)
	return dw.w.Write(b)
}

// This test checks that the reported duration grows with injected send latency.
func TestDurationLatency(t *testing.T) {
	content := testContent[:10000] // three chunks of DefaultChunkSize
	var prev time.Duration
	for _, delay := range []time.Duration{0, time.Millisecond, 5 * time.Millisecond, 20 * time.Millisecond} {
		clock := new(mclock.Simulated)
		srv := NewServer(Config{
			Source: transfer.Source{FS: fstest.MapFS{"file": &fstest.MapFile{Data: content}}, Name: "file"},
			Clock:  clock,
		})
		var out bytes.Buffer
		sent, d, err := srv.serveFile(&delayWriter{&out, clock, delay}, log.Root())
		require.NoError(t, err)
		assert.EqualValues(t, len(content), sent)
		assert.Equal(t, 3*delay, d)
		assert.True(t, d >= prev, "duration %v below previous %v", d, prev)
		prev = d

		reported, err := transfer.ParseDuration(out.Bytes()[HeaderSize+len(content):])
		require.NoError(t, err)
		assert.InDelta(t, d.Seconds(), reported.Seconds(), 1e-9)
	}
}

func TestReceiveTruncated(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "received")
	client := NewClient(ClientConfig{Dest: dest})

	resp := append([]byte("100             "), testContent[:40]...)
	res, err := client.receive(bytes.NewReader(resp))
	assert.ErrorIs(t, err, transfer.ErrTruncated)
	require.NotNil(t, res)
	assert.EqualValues(t, 40, res.Received)
	assert.EqualValues(t, 100, res.Size)

	received, _ := os.ReadFile(dest)
	assert.Equal(t, testContent[:40], received)
}

func TestReceiveMalformed(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "received")
	client := NewClient(ClientConfig{Dest: dest})

	_, err := client.receive(bytes.NewReader(nil))
	assert.ErrorIs(t, err, transfer.ErrNoHeader)

	_, err = client.receive(bytes.NewReader([]byte("xyz             ")))
	assert.ErrorIs(t, err, transfer.ErrMalformedHeader)

	_, err = client.receive(bytes.NewReader([]byte("3               abcnot-a-number")))
	assert.ErrorIs(t, err, transfer.ErrMalformedDuration)

	_, err = client.receive(bytes.NewReader([]byte("3               abc")))
	assert.ErrorIs(t, err, transfer.ErrMalformedDuration)
}

// This test checks that payload reads never consume the duration report.
func TestReceiveSmallChunks(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "received")
	client := NewClient(ClientConfig{Dest: dest, ChunkSize: 7})

	resp := append([]byte("20              "), testContent[:20]...)
	resp = append(resp, "0.25"...)
	res, err := client.receive(bytes.NewReader(resp))
	require.NoError(t, err)
	assert.EqualValues(t, 20, res.Received)
	assert.Equal(t, 250*time.Millisecond, res.Duration)
}

// This test checks readers which return the final payload bytes together with io.EOF.
func TestReceiveDataWithEOF(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "received")
	client := NewClient(ClientConfig{Dest: dest})
	payload := append([]byte("20              "), testContent[:20]...)

	full := append(append([]byte(nil), payload...), "0.5"...)
	res, err := client.receive(iotest.DataErrReader(bytes.NewReader(full)))
	require.NoError(t, err)
	assert.EqualValues(t, 20, res.Received)
	assert.Equal(t, 500*time.Millisecond, res.Duration)

	// Complete payload without duration report is not a truncated file.
	_, err = client.receive(iotest.DataErrReader(bytes.NewReader(payload)))
	assert.ErrorIs(t, err, transfer.ErrMalformedDuration)
	assert.NotErrorIs(t, err, transfer.ErrTruncated)
	received, _ := os.ReadFile(dest)
	assert.Equal(t, testContent[:20], received)
}
