package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/ttejuosho/akubata/internal/domain"
	"github.com/ttejuosho/akubata/internal/service/cart"
	"github.com/ttejuosho/akubata/internal/service/catalog"
	"github.com/ttejuosho/akubata/internal/service/payment"
	"github.com/ttejuosho/akubata/internal/storage/postgres"
)

const (
	testDSNEnv     = "AKUBATA_POSTGRES_TEST_DSN"
	skipDockerEnv  = "AKUBATA_SKIP_CONTAINERS"
	postgresImage  = "postgres:17.6-alpine3.22"
	testLockWindow = 150 * time.Millisecond
)

type storeSuite struct {
	suite.Suite

	container *tcpostgres.PostgresContainer
	store     *postgres.Store
	engine    *cart.Engine
	catalog   *catalog.Service
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(storeSuite))
}

func (s *storeSuite) SetupSuite() {
	ctx := context.Background()

	dsn := strings.TrimSpace(os.Getenv(testDSNEnv))
	if dsn == "" {
		if os.Getenv(skipDockerEnv) != "" {
			s.T().Skipf("%s is not set and containers are disabled", testDSNEnv)
		}
		testcontainers.SkipIfProviderIsNotHealthy(s.T())
		container, connStr, err := startPostgres(ctx)
		if err != nil {
			s.T().Skipf("postgres container is not available: %v", err)
		}
		s.container = container
		dsn = connStr
	}

	store, err := postgres.Open(ctx, dsn, postgres.WithLockTimeout(testLockWindow))
	s.Require().NoError(err)
	s.Require().NoError(store.EnsureSchema(ctx))
	s.store = store

	s.engine = cart.NewEngine(store, cart.WithPayments(payment.NewMockService()))
	s.catalog = catalog.NewService(store, nil)
}

func (s *storeSuite) TearDownSuite() {
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.container != nil {
		_ = testcontainers.TerminateContainer(s.container)
	}
}

// startPostgres поднимает контейнер; паника клиента Docker превращается в ошибку.
func startPostgres(ctx context.Context) (container *tcpostgres.PostgresContainer, connStr string, err error) {
	defer func() {
		if r := recover(); r != nil {
			container, connStr, err = nil, "", fmt.Errorf("docker is not available: %v", r)
		}
	}()

	container, err = tcpostgres.Run(ctx, postgresImage, tcpostgres.BasicWaitStrategies())
	if err != nil {
		return nil, "", err
	}
	connStr, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		return nil, "", err
	}
	return container, connStr, nil
}

func (s *storeSuite) newProduct(priceMinor int64, stock int32) domain.Product {
	product, err := s.catalog.CreateProduct(context.Background(), domain.Product{
		ID:             gofakeit.UUID(),
		Name:           gofakeit.ProductName(),
		UnitPriceMinor: priceMinor,
		StockQuantity:  stock,
	})
	s.Require().NoError(err)
	return product
}

func (s *storeSuite) stockOf(productID string) int32 {
	var stock int32
	err := s.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		product, err := tx.Products().LockAndRead(ctx, productID)
		stock = product.StockQuantity
		return err
	})
	s.Require().NoError(err)
	return stock
}

func (s *storeSuite) TestCartLifecycle() {
	ctx := context.Background()
	user := gofakeit.UUID()
	kettle := s.newProduct(2599, 5)
	mug := s.newProduct(450, 10)

	_, err := s.engine.AddItem(ctx, user, kettle.ID, 2)
	s.Require().NoError(err)
	_, err = s.engine.AddItem(ctx, user, mug.ID, 4)
	s.Require().NoError(err)

	view, err := s.engine.UpdateItemQuantity(ctx, user, mug.ID, 1)
	s.Require().NoError(err)
	s.Equal(int64(2*2599+450), view.TotalMinor)
	s.Equal(int64(3), view.ItemCount)
	s.Equal(int32(3), s.stockOf(kettle.ID))
	s.Equal(int32(9), s.stockOf(mug.ID))

	view, err = s.engine.RemoveItem(ctx, user, kettle.ID, 1)
	s.Require().NoError(err)
	s.Equal(int64(2599+450), view.TotalMinor)
	s.Equal(int32(4), s.stockOf(kettle.ID))

	order, err := s.engine.Checkout(ctx, user, "credit card")
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusCompleted, order.Status)

	current, err := s.engine.GetCart(ctx, user)
	s.Require().NoError(err)
	s.Empty(current.Items, "checkout leaves no open cart")

	history, err := s.engine.ListOrders(ctx, user, 10)
	s.Require().NoError(err)
	s.Require().Len(history, 1)

	want := []domain.CartLine{
		{ProductID: kettle.ID, ProductName: kettle.Name, Quantity: 1, UnitPriceMinor: 2599, LineTotalMinor: 2599},
		{ProductID: mug.ID, ProductName: mug.Name, Quantity: 1, UnitPriceMinor: 450, LineTotalMinor: 450},
	}
	sortLines := cmpopts.SortSlices(func(a, b domain.CartLine) bool { return a.ProductID < b.ProductID })
	if diff := cmp.Diff(want, history[0].Items, sortLines); diff != "" {
		s.T().Errorf("order lines mismatch (-want +got):\n%s", diff)
	}
}

func (s *storeSuite) TestClearCartReturnsStock() {
	ctx := context.Background()
	user := gofakeit.UUID()
	product := s.newProduct(1000, 3)

	_, err := s.engine.AddItem(ctx, user, product.ID, 3)
	s.Require().NoError(err)
	s.Equal(int32(0), s.stockOf(product.ID))

	s.Require().NoError(s.engine.ClearCart(ctx, user))
	s.Equal(int32(3), s.stockOf(product.ID))

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Orders().FindOpenOrder(ctx, user)
		return err
	})
	s.ErrorIs(err, domain.ErrCartNotFound)
}

func (s *storeSuite) TestConcurrentAddsForLastUnit() {
	product := s.newProduct(999, 1)
	users := []string{gofakeit.UUID(), gofakeit.UUID()}

	engine := cart.NewEngine(s.store)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, user := range users {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, err := engine.AddItem(context.Background(), user, product.ID, 1)
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}(user)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		s.True(errors.Is(err, domain.ErrInsufficientStock) || errors.Is(err, domain.ErrConflict), "unexpected error %v", err)
	}
	s.Equal(1, succeeded)
	s.Equal(int32(0), s.stockOf(product.ID))
}

func (s *storeSuite) TestLockTimeoutIsConflict() {
	product := s.newProduct(100, 1)
	locked := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = s.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
			if _, err := tx.Products().LockAndRead(ctx, product.ID); err != nil {
				close(locked)
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked
	defer close(release)

	err := s.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Products().LockAndRead(ctx, product.ID)
		return err
	})
	s.ErrorIs(err, domain.ErrConflict)
}

func (s *storeSuite) TestRepriceKeepsCartPrice() {
	ctx := context.Background()
	user := gofakeit.UUID()
	product := s.newProduct(500, 10)

	_, err := s.engine.AddItem(ctx, user, product.ID, 1)
	s.Require().NoError(err)

	repriced, err := s.catalog.Reprice(ctx, product.ID, 700)
	s.Require().NoError(err)
	s.Equal(int64(700), repriced.UnitPriceMinor)

	view, err := s.engine.AddItem(ctx, user, product.ID, 1)
	s.Require().NoError(err)
	s.Require().Len(view.Items, 1)
	s.Equal(int64(500), view.Items[0].UnitPriceMinor, "line keeps the price captured on first add")
	s.Equal(int64(1000), view.TotalMinor)
}

func (s *storeSuite) TestCheckoutEnqueuesOutboxMessage() {
	ctx := context.Background()
	user := gofakeit.UUID()
	product := s.newProduct(1250, 2)

	_, err := s.engine.AddItem(ctx, user, product.ID, 2)
	s.Require().NoError(err)
	order, err := s.engine.Checkout(ctx, user, "paypal")
	s.Require().NoError(err)

	repo := postgres.NewOutboxRepository(s.store)
	pending, err := repo.PullPending(ctx, 1000)
	s.Require().NoError(err)

	var found *domain.OutboxMessage
	for i := range pending {
		if pending[i].AggregateID == order.OrderID {
			found = &pending[i]
		}
	}
	s.Require().NotNil(found, "checkout must enqueue an order event")
	s.Equal(domain.EventTypeOrderCompleted, found.EventType)

	s.Require().NoError(repo.MarkSent(ctx, found.ID))
	pending, err = repo.PullPending(ctx, 1000)
	s.Require().NoError(err)
	for _, msg := range pending {
		s.NotEqual(found.ID, msg.ID)
	}
}

func (s *storeSuite) TestIdempotencyRepository() {
	ctx := context.Background()
	repo := postgres.NewIdempotencyRepository(s.store)
	key := gofakeit.UUID()
	ttl := time.Now().Add(time.Hour)

	_, err := repo.CreateProcessing(ctx, key, "hash-a", ttl)
	s.Require().NoError(err)

	record, err := repo.CreateProcessing(ctx, key, "hash-a", ttl)
	s.ErrorIs(err, domain.ErrIdempotencyKeyAlreadyExists)
	s.Equal(domain.IdempotencyStatusProcessing, record.Status)

	_, err = repo.CreateProcessing(ctx, key, "hash-b", ttl)
	s.ErrorIs(err, domain.ErrIdempotencyHashMismatch)

	s.Require().NoError(repo.Release(ctx, key))
	_, err = repo.CreateProcessing(ctx, key, "hash-b", ttl)
	s.Require().NoError(err, "released key can be taken by another request")

	s.Require().NoError(repo.MarkDone(ctx, key, []byte(`{"ok":true}`), 200))
	record, err = repo.Get(ctx, key)
	s.Require().NoError(err)
	s.Equal(domain.IdempotencyStatusDone, record.Status)
	s.JSONEq(`{"ok":true}`, string(record.ResponseBody))

	expired := gofakeit.UUID()
	_, err = repo.CreateProcessing(ctx, expired, "hash-c", time.Now().Add(-time.Minute))
	s.Require().NoError(err)
	deleted, err := repo.DeleteExpired(ctx, time.Now(), 100)
	s.Require().NoError(err)
	s.GreaterOrEqual(deleted, 1)

	_, err = repo.Get(ctx, expired)
	s.ErrorIs(err, domain.ErrIdempotencyKeyNotFound)
}

func (s *storeSuite) TestMigrationStatus() {
	version, applied, err := s.store.MigrationStatus(context.Background())
	s.Require().NoError(err)
	assert.Positive(s.T(), version)
	assert.Positive(s.T(), applied)
	require.NoError(s.T(), s.store.Ping(context.Background()))
}
