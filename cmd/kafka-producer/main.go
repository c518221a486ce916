package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
)

// StatMutationEvent is the message produced onto the mutation topic
type StatMutationEvent struct {
	GameID        string  `json:"game_id"`
	StatName      string  `json:"stat_name"`
	PlayerAliasID string  `json:"player_alias_id"`
	Change        float64 `json:"change"`
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "stat-mutations", "Kafka topic")
	gameID := flag.String("game", "game1", "Game ID")
	statNames := flag.String("stats", "gold,xp,kills", "Stat names (comma-separated)")
	totalAliases := flag.Int("aliases", 1000, "Number of player aliases to address")
	updatesPerSecond := flag.Int("rate", 100, "Mutations per second")
	maxChange := flag.Float64("max-change", 50, "Largest delta magnitude to produce")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	brokerList := strings.Split(*brokers, ",")
	stats := strings.Split(*statNames, ",")

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  🚀 Kafka Stat Mutation Producer")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Game:             %s\n", *gameID)
	fmt.Printf("  Stats:            %s\n", *statNames)
	fmt.Printf("  Aliases:          %d\n", *totalAliases)
	fmt.Printf("  Mutations/sec:    %d\n", *updatesPerSecond)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	// Create producer
	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	// Handle producer errors and successes
	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	// Send message helper
	sendMessage := func(event StatMutationEvent) {
		data, err := json.Marshal(event)
		if err != nil {
			log.Printf("Failed to marshal message: %v", err)
			return
		}

		msg := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(event.PlayerAliasID),
			Value: sarama.ByteEncoder(data),
		}

		select {
		case producer.Input() <- msg:
		case <-done:
			return
		}
	}

	shutdown := func(reason string) {
		fmt.Printf("\n\n%s\n", reason)
		close(done)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\n✓ Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	fmt.Printf("Producing mutations (%d/sec)\n", *updatesPerSecond)
	fmt.Println("A fraction of mutations deliberately exceeds the rate limit and")
	fmt.Println("bounds to exercise the rejection paths")
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	interval := time.Second / time.Duration(*updatesPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	var mutationCount int64

	for {
		select {
		case <-sigChan:
			shutdown("Shutting down...")
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				shutdown("Duration reached, shutting down...")
				return
			}

			// 30% of traffic hammers a hot set of aliases so the
			// per-player rate limit actually fires
			var aliasIdx int
			if rand.Intn(100) < 30 {
				aliasIdx = rand.Intn(10)
			} else {
				aliasIdx = rand.Intn(*totalAliases)
			}

			change := rand.Float64()*2**maxChange - *maxChange
			event := StatMutationEvent{
				GameID:        *gameID,
				StatName:      stats[rand.Intn(len(stats))],
				PlayerAliasID: fmt.Sprintf("alias-%d", aliasIdx),
				Change:        change,
			}
			sendMessage(event)
			atomic.AddInt64(&mutationCount, 1)

		case <-statsTicker.C:
			mutations := atomic.LoadInt64(&mutationCount)
			success := atomic.LoadInt64(&successCount)
			errors := atomic.LoadInt64(&errorCount)
			fmt.Printf("[%s] Mutations: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				mutations,
				success,
				errors,
			)
		}
	}
}
