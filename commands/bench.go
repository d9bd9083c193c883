package commands

import (
	"fmt"
	"hash/crc32"
	"time"

	"github.com/ranlab/rtcore/actor"
	"github.com/ranlab/rtcore/barrier"
	"github.com/ranlab/rtcore/completion"
	"github.com/ranlab/rtcore/config"
	"github.com/ranlab/rtcore/fifo"
	"github.com/ranlab/rtcore/log"
	"github.com/ranlab/rtcore/thread"
	"github.com/ranlab/rtcore/tpool"
	"github.com/spf13/cobra"
)

var (
	layoutFlag  string
	tasksFlag   int
	payloadFlag int
	actorCore   int
)

// PoolBenchCmd measures dispatch through the worker pool and an actor.
var PoolBenchCmd = &cobra.Command{
	Use:   "pool-bench",
	Short: "Run a synthetic workload through the worker pool and an actor",
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Initialize(false)
		defer log.Close()

		cfg := config.LoadConfig()
		layout := cfg.ThreadPool
		if layoutFlag != "" {
			layout = layoutFlag
		}
		if tasksFlag <= 0 || payloadFlag <= 0 {
			return fmt.Errorf("tasks and payload must be positive")
		}

		pool, err := tpool.New(layout, cfg.PoolName)
		if err != nil {
			return err
		}
		defer pool.Shutdown()

		payload := make([]byte, payloadFlag)
		for i := range payload {
			payload[i] = byte(i)
		}
		fmt.Printf("pool %s: %d workers, %d tasks of %d bytes\n", pool.Name(), pool.Workers(), tasksFlag, payloadFlag)

		// Completion counter: submitter knows the task count up front.
		counter := completion.New(tasksFlag)
		start := time.Now()
		for i := 0; i < tasksFlag; i++ {
			pool.Submit(func(any) {
				crc32.ChecksumIEEE(payload)
				counter.Complete(1)
			}, nil)
		}
		counter.Join()
		fmt.Printf("completion: %v\n", time.Since(start))

		// Barrier: the target is armed after submission has started.
		done := make(chan struct{})
		b := barrier.New()
		start = time.Now()
		for i := 0; i < tasksFlag; i++ {
			pool.Submit(func(any) {
				crc32.ChecksumIEEE(payload)
				b.Join()
			}, nil)
			if i == tasksFlag/2 {
				b.Update(tasksFlag, func() { close(done) })
			}
		}
		<-done
		fmt.Printf("barrier:    %v\n", time.Since(start))

		a := actor.New("bench", actorCore)
		defer a.Shutdown()
		resp := fifo.New()
		start = time.Now()
		for i := 0; i < tasksFlag; i++ {
			it := fifo.NewItem(payloadFlag, i, resp, func(it *fifo.Item) {
				it.Arg = crc32.ChecksumIEEE(it.Data())
			})
			copy(it.Data(), payload)
			a.Push(it)
		}
		var exec, roundTrip time.Duration
		for i := 0; i < tasksFlag; i++ {
			it := resp.Pop()
			exec += it.ExecTime()
			roundTrip += it.ReturnTime.Sub(it.CreationTime)
			it.Release()
		}
		fmt.Printf("actor:      %v (avg exec %v, avg round trip %v)\n", time.Since(start),
			exec/time.Duration(tasksFlag), roundTrip/time.Duration(tasksFlag))

		fmt.Println(pool.Metrics())
		for i := 0; i < pool.Workers(); i++ {
			fmt.Printf("  worker %d: %d tasks\n", i, pool.Metrics().WorkerExecuted(i))
		}
		return nil
	},
}

func init() {
	PoolBenchCmd.Flags().StringVar(&layoutFlag, "layout", "", `worker layout, e.g. "n", "-1,-1" or "2,3,4" (default from config)`)
	PoolBenchCmd.Flags().IntVar(&tasksFlag, "tasks", 100000, "tasks per phase")
	PoolBenchCmd.Flags().IntVar(&payloadFlag, "payload", 1024, "bytes hashed by each task")
	PoolBenchCmd.Flags().IntVar(&actorCore, "actor-core", thread.AnyCore, "core the actor is pinned to")
}
