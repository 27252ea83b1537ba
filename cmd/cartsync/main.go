package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/example/kesimarket-storefront/internal/auth"
	"github.com/example/kesimarket-storefront/internal/cartsync"
	"github.com/example/kesimarket-storefront/internal/command"
	"github.com/example/kesimarket-storefront/internal/config"
	"github.com/example/kesimarket-storefront/internal/domain/cart"
	"github.com/example/kesimarket-storefront/internal/infrastructure/kafka"
	"github.com/example/kesimarket-storefront/internal/infrastructure/store"
	"github.com/example/kesimarket-storefront/internal/infrastructure/storefront"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[CLI] Invalid configuration: %v", err)
	}

	log.Println("[CLI] ========================================")
	log.Println("[CLI] KesiMarket - Cart Sync")
	log.Println("[CLI] ========================================")
	log.Printf("[CLI] Storefront API: %s", cfg.StorefrontAPIURL)
	log.Printf("[CLI] Device cart: %s", cfg.CartID)
	log.Printf("[CLI] Journal: %s", cfg.JournalBackend)
	log.Printf("[CLI] Outbox: %v", cfg.OutboxEnabled)

	// Cart activity stream is optional
	var publisher store.Publisher
	if cfg.KafkaTopic != "" {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		publisher = producer
		log.Printf("[CLI] Kafka: %v topic %s", cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	journal, closeJournal, err := openJournal(ctx, cfg, publisher)
	if err != nil {
		log.Fatalf("[CLI] Failed to open journal: %v", err)
	}
	defer closeJournal()

	cartStore, err := cart.Restore(ctx, journal, cfg.CartID)
	if err != nil {
		log.Fatalf("[CLI] Failed to restore cart: %v", err)
	}
	defer cartStore.Close()
	log.Printf("[CLI] Restored device cart with %d lines", cartStore.Len())

	session := auth.NewSession()
	client := storefront.NewClient(cfg.StorefrontAPIURL, session, storefront.Options{})
	coordinator := cartsync.NewCoordinator(cartStore, client, cartsync.Config{
		RemoteTimeout: cfg.RemoteTimeout,
		OutboxEnabled: cfg.OutboxEnabled,
	})
	unbind := coordinator.Bind(ctx, session)
	defer unbind()

	if cfg.AccessToken != "" {
		if err := session.Login(cfg.AccessToken); err != nil {
			log.Printf("[CLI] Ignoring ACCESS_TOKEN: %v", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		coordinator.RunOutbox(ctx, cfg.OutboxInterval)
	}()

	handler := command.NewHandler(coordinator, session)
	lines := make(chan string)
	go readLines(lines)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Print(command.Render(handler.Show(ctx, command.Show{})))
	prompt()
loop:
	for {
		select {
		case <-sigCh:
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			run(ctx, handler, line)
			prompt()
		}
	}

	log.Println("[CLI] Shutting down...")
	cancel()
	wg.Wait()
}

func run(ctx context.Context, handler *command.Handler, line string) {
	cmd, err := command.Parse(line)
	if errors.Is(err, command.ErrEmptyCommand) {
		return
	}
	if err != nil {
		fmt.Println(err)
		return
	}
	out, err := handler.Execute(ctx, cmd)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Print(out)
}

func prompt() {
	fmt.Print("cart> ")
}

func readLines(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		log.Printf("[CLI] stdin error: %v", err)
	}
}

// openJournal selects the device journal backend
func openJournal(ctx context.Context, cfg *config.Config, publisher store.Publisher) (store.EventStoreInterface, func(), error) {
	switch cfg.JournalBackend {
	case config.JournalPostgres:
		db, err := store.ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		log.Println("[CLI] Connected to PostgreSQL")
		return store.NewPostgresEventStore(db, publisher), func() { db.Close() }, nil
	case config.JournalDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg)
		log.Printf("[CLI] Using DynamoDB tables %s, %s", cfg.DynamoEventsTable, cfg.DynamoSnapshotsTable)
		return store.NewDynamoEventStore(client, cfg.DynamoEventsTable, cfg.DynamoSnapshotsTable, publisher), func() {}, nil
	}
	return store.NewEventStore(publisher), func() {}, nil
}
