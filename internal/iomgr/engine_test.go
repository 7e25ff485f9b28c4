package iomgr_test

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ovio/internal/bridge"
	"ovio/internal/iomgr"
	"ovio/internal/overlapped"

	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.TimeOnly,
		AddSource:  true,
	})))
	os.Exit(m.Run())
}

func tempfile(t *testing.T, size int) (string, []byte) {
	dir := t.TempDir()
	path := filepath.Join(dir, fmt.Sprintf("oviotest%016x.bin", rand.Uint64()))
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(rand.Uint32())
	}
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path, data
}

func poolEngine(t *testing.T) bridge.Engine {
	cfg := iomgr.DefaultConfig()
	cfg.Backend = iomgr.BackendPool
	eng, err := iomgr.New(cfg)
	require.NoError(t, err)
	return eng
}

// Every engine has to pass the same battery.
func exerciseEngine(t *testing.T, eng bridge.Engine) {
	t.Run("ReadAll", func(t *testing.T) { engineReadAll(t, eng) })
	t.Run("Past_EOF", func(t *testing.T) { enginePastEOF(t, eng) })
	t.Run("Registration", func(t *testing.T) { engineRegistration(t, eng) })
	t.Run("Cancel_After_Completion", func(t *testing.T) { engineLateCancel(t, eng) })
	t.Run("Concurrent_Bridges", func(t *testing.T) { engineConcurrent(t, eng) })
	t.Run("Cancel_Mid_Session", func(t *testing.T) { engineCancelMidSession(t, eng) })
}

func engineReadAll(t *testing.T, eng bridge.Engine) {
	for _, size := range []int{0, 1, 0x1000, 0x1000 * 3, 0x1000*3 + 17} {
		path, data := tempfile(t, size)
		h := open(t, path)
		b, err := eng.Register(h)
		require.NoError(t, err)

		var got bytes.Buffer
		r, err := overlapped.NewReader(b, make([]byte, 0x1000))
		require.NoError(t, err)
		total, err := r.ReadAll(context.Background(), func(chunk []byte) error {
			got.Write(chunk)
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, int64(size), total)
		assert.True(t, bytes.Equal(data, got.Bytes()), "size %d", size)
		assert.Equal(t, (size+0xfff)/0x1000, r.Chunks())
		assert.NoError(t, b.Close())
	}
}

// The session is cancelled from inside the first callback. Whether or not the engine
// manages to cancel anything, no further chunk is delivered.
func engineCancelMidSession(t *testing.T, eng bridge.Engine) {
	path, data := tempfile(t, 0x100000)
	h := open(t, path)
	b, err := eng.Register(h)
	require.NoError(t, err)

	r, err := overlapped.NewReader(b, make([]byte, 0x1000))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var got bytes.Buffer
	total, err := r.ReadAll(ctx, func(chunk []byte) error {
		got.Write(chunk)
		cancel()
		return nil
	})

	assert.ErrorIs(t, err, bridge.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, bridge.KindAborted, bridge.KindOf(err))
	assert.Equal(t, int64(0x1000), total)
	assert.Equal(t, 1, r.Chunks())
	assert.True(t, bytes.Equal(data[:0x1000], got.Bytes()))
	assert.Equal(t, 0, b.InFlight())
	assert.NoError(t, b.Close())
}

func enginePastEOF(t *testing.T, eng bridge.Engine) {
	path, _ := tempfile(t, 100)
	h := open(t, path)
	b, err := eng.Register(h)
	require.NoError(t, err)
	defer b.Close()

	buf := make([]byte, 64)
	for _, off := range []uint64{100, 101, 1 << 20} {
		n, err := overlapped.Issue(context.Background(), b, buf, off, len(buf))
		assert.NoError(t, err)
		assert.Equal(t, 0, n, "offset %d", off)
	}
}

func engineRegistration(t *testing.T, eng bridge.Engine) {
	path, _ := tempfile(t, 10)
	h := open(t, path)

	bad := h
	bad.Mode = 0
	_, err := eng.Register(bad)
	assert.ErrorIs(t, err, bridge.ErrRegistration)
	assert.ErrorIs(t, err, bridge.ErrNotOverlapped)

	b, err := eng.Register(h)
	require.NoError(t, err)
	_, err = eng.Register(h)
	assert.ErrorIs(t, err, bridge.ErrAlreadyRegistered)

	assert.NoError(t, b.Close())
	assert.NoError(t, b.Close(), "second close is a no-op")
	_, err = b.Arm(make([]byte, 8), 0)
	assert.ErrorIs(t, err, bridge.ErrBridgeClosed)

	b, err = eng.Register(h)
	assert.NoError(t, err, "closed bridge frees the handle")
	_, err = b.Arm(nil, 0)
	assert.ErrorIs(t, err, bridge.ErrInvalidConfiguration)
	assert.NoError(t, b.Close())
}

func engineLateCancel(t *testing.T, eng bridge.Engine) {
	path, data := tempfile(t, 100)
	h := open(t, path)
	b, err := eng.Register(h)
	require.NoError(t, err)
	defer b.Close()

	buf := make([]byte, 64)
	st, err := b.Arm(buf, 0)
	require.NoError(t, err)
	res := st.Token().Await()

	assert.NoError(t, b.Cancel(st))
	assert.NoError(t, b.Cancel(st))
	assert.Equal(t, bridge.StatusSucceeded, res.Status)
	assert.Equal(t, 64, res.N)
	assert.Equal(t, data[:64], buf)
	assert.Equal(t, 0, b.InFlight())
}

func engineConcurrent(t *testing.T, eng bridge.Engine) {
	const FILES = 8
	var wg sync.WaitGroup
	for range FILES {
		path, data := tempfile(t, 0x1000*8+rand.IntN(0x1000))
		h := open(t, path)
		b, err := eng.Register(h)
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer b.Close()
			var got bytes.Buffer
			r, err := overlapped.NewReader(b, make([]byte, 0x1000))
			if !assert.NoError(t, err) {
				return
			}
			_, err = r.ReadAll(context.Background(), func(chunk []byte) error {
				got.Write(chunk)
				return nil
			})
			assert.NoError(t, err)
			assert.True(t, bytes.Equal(data, got.Bytes()), "%s read back wrong", path)
		}()
	}
	wg.Wait()
}

func Test_Pool(t *testing.T) {
	eng := poolEngine(t)
	exerciseEngine(t, eng)
	assert.NoError(t, eng.Close())
	assert.NoError(t, eng.Close())

	_, err := eng.Register(bridge.Handle{Fd: 0, Mode: bridge.ModeOverlapped})
	assert.ErrorIs(t, err, bridge.ErrBridgeClosed)
}

func Test_Auto(t *testing.T) {
	eng, err := iomgr.New(iomgr.DefaultConfig())
	require.NoError(t, err)
	exerciseEngine(t, eng)
	assert.NoError(t, eng.Close())
}

func Test_Config_Validate(t *testing.T) {
	mutate := map[string]func(*iomgr.Config){
		"backend": func(c *iomgr.Config) { c.Backend = "tape" },
		"entries": func(c *iomgr.Config) { c.RingEntries = 100 },
		"zero":    func(c *iomgr.Config) { c.RingEntries = 0 },
		"reap":    func(c *iomgr.Config) { c.ReapInterval = 0 },
		"workers": func(c *iomgr.Config) { c.PoolWorkers = 0 },
		"threads": func(c *iomgr.Config) { c.PortThreads = -1 },
	}
	assert.NoError(t, iomgr.DefaultConfig().Validate())
	for name, fn := range mutate {
		cfg := iomgr.DefaultConfig()
		fn(&cfg)
		assert.ErrorIs(t, cfg.Validate(), bridge.ErrInvalidConfiguration, name)
		_, err := iomgr.New(cfg)
		assert.ErrorIs(t, err, bridge.ErrInvalidConfiguration, name)
	}
}

func Test_AllocSlab(t *testing.T) {
	for _, size := range []int{0x1000, 0x10000, 0x1000 * 3} {
		slab, err := iomgr.AllocSlab(size)
		require.NoError(t, err)
		assert.Len(t, slab, size)
		assert.Zero(t, uintptrOf(slab)&0xfff, "slab not page aligned")
		assert.NoError(t, iomgr.DeallocSlab(slab))
	}
	_, err := iomgr.AllocSlab(0)
	assert.ErrorIs(t, err, bridge.ErrInvalidConfiguration)
}
