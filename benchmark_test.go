package conductor_test

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"testing"

	cd "github.com/azargarov/conductor"
)

func BenchmarkWorkerPool_AcquireRelease(b *testing.B) {
	p := cd.NewWorkerPool(cd.KindA, 64)
	for range 64 {
		if err := p.Register(cd.NewWorkerSlot(cd.KindA)); err != nil {
			b.Fatal(err)
		}
	}

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			s, ok := p.TryAcquire()
			if !ok {
				runtime.Gosched()
				continue
			}
			if err := p.Release(s); err != nil {
				b.Errorf("release: %v", err)
				return
			}
		}
	})
}

// One task per iteration travels client -> dispatcher -> worker ->
// router -> client, with workers of both kinds completing immediately.
func BenchmarkConductor_RoundTrip(b *testing.B) {
	for _, workers := range []int{1, 4} {
		b.Run(fmt.Sprintf("workers=%d", workers), func(b *testing.B) {
			benchRoundTrip(b, workers)
		})
	}
}

func benchRoundTrip(b *testing.B, perKind int) {
	ctx, cancel := context.WithCancel(context.Background())
	c := cd.New(cd.Options{QueueCapacity: 1024})

	delivered := make(chan struct{}, 1024)
	sink := cd.SinkFunc(func(ctx context.Context, _ cd.Task) error {
		select {
		case delivered <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err := c.OnClientConnected(ctx, 0, sink); err != nil {
		b.Fatal(err)
	}

	var wg sync.WaitGroup
	for _, k := range cd.Kinds {
		for range perKind {
			s, err := c.OnWorkerConnected(ctx, k)
			if err != nil {
				b.Fatal(err)
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case t := <-s.Outbound():
						if c.Complete(ctx, s, t) != nil {
							return
						}
					case <-ctx.Done():
						return
					}
				}
			}()
		}
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = c.Run(ctx)
	}()
	defer func() {
		cancel()
		c.Close()
		wg.Wait()
	}()

	b.ReportAllocs()
	b.ResetTimer()

	go func() {
		for i := 0; i < b.N; i++ {
			if c.Submit(ctx, cd.Task{ClientID: 0, TaskID: i, Kind: cd.Kinds[i%2]}) != nil {
				return
			}
		}
	}()
	for i := 0; i < b.N; i++ {
		<-delivered
	}
}
