package cart_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/cucumber/godog"

	"github.com/ttejuosho/akubata/internal/domain"
	"github.com/ttejuosho/akubata/internal/service/cart"
	"github.com/ttejuosho/akubata/internal/storage/memory"
)

var featureErrors = map[string]error{
	"insufficient stock": domain.ErrInsufficientStock,
	"cart not found":     domain.ErrCartNotFound,
	"product not found":  domain.ErrProductNotFound,
	"invalid quantity":   domain.ErrInvalidQuantity,
	"conflict":           domain.ErrConflict,
}

type cartFeature struct {
	store  *memory.Store
	engine *cart.Engine
	err    error

	concurrentErrs []error
}

func (c *cartFeature) reset() {
	c.store = memory.NewStore()
	c.engine = cart.NewEngine(c.store, cart.WithLogger(loggerForTests()))
	c.err = nil
	c.concurrentErrs = nil
}

func (c *cartFeature) aProductPricedWithStock(productID, price string, stock int) error {
	priceMinor, err := domain.ParseMinor(price)
	if err != nil {
		return err
	}
	return c.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Products().Create(ctx, domain.Product{
			ID:             productID,
			Name:           "Product " + productID,
			UnitPriceMinor: priceMinor,
			StockQuantity:  int32(stock),
		})
		return err
	})
}

func (c *cartFeature) userAdds(userID string, qty int, productID string) error {
	_, c.err = c.engine.AddItem(context.Background(), userID, productID, int32(qty))
	return nil
}

func (c *cartFeature) userSetsQuantity(userID, productID string, qty int) error {
	_, c.err = c.engine.UpdateItemQuantity(context.Background(), userID, productID, int32(qty))
	return nil
}

func (c *cartFeature) userRemoves(userID string, qty int, productID string) error {
	_, c.err = c.engine.RemoveItem(context.Background(), userID, productID, int32(qty))
	return nil
}

func (c *cartFeature) usersConcurrentlyAdd(first, second string, qty int, productID string) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, userID := range []string{first, second} {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, err := c.engine.AddItem(context.Background(), userID, productID, int32(qty))
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}(userID)
	}
	wg.Wait()
	c.concurrentErrs = errs
	return nil
}

func (c *cartFeature) theOperationSucceeds() error {
	if c.err != nil {
		return fmt.Errorf("expected success, got %v", c.err)
	}
	return nil
}

func (c *cartFeature) theOperationFailsWith(kind string) error {
	return matchFeatureError(c.err, kind)
}

func (c *cartFeature) exactlyConcurrentAddsSucceed(want int) error {
	succeeded := 0
	for _, err := range c.concurrentErrs {
		if err == nil {
			succeeded++
		}
	}
	if succeeded != want {
		return fmt.Errorf("expected %d successful adds, got %d (%v)", want, succeeded, c.concurrentErrs)
	}
	return nil
}

func (c *cartFeature) theOtherAddFailsWith(kind string) error {
	for _, err := range c.concurrentErrs {
		if err != nil {
			return matchFeatureError(err, kind)
		}
	}
	return errors.New("no concurrent add failed")
}

func (c *cartFeature) cartHasLines(userID string, want int) error {
	view, err := c.engine.GetCart(context.Background(), userID)
	if err != nil {
		return err
	}
	if len(view.Items) != want {
		return fmt.Errorf("expected %d lines, got %d", want, len(view.Items))
	}
	return nil
}

func (c *cartFeature) cartHasLine(userID string, qty int, productID, price string) error {
	view, err := c.engine.GetCart(context.Background(), userID)
	if err != nil {
		return err
	}
	for _, line := range view.Items {
		if line.ProductID != productID {
			continue
		}
		if int(line.Quantity) != qty {
			return fmt.Errorf("expected %d of %s, got %d", qty, productID, line.Quantity)
		}
		if got := domain.FormatMinor(line.UnitPriceMinor); got != price {
			return fmt.Errorf("expected unit price %s, got %s", price, got)
		}
		return nil
	}
	return fmt.Errorf("product %s is not in the cart of %s", productID, userID)
}

func (c *cartFeature) cartTotalIs(userID, total string) error {
	view, err := c.engine.GetCart(context.Background(), userID)
	if err != nil {
		return err
	}
	if got := domain.FormatMinor(view.TotalMinor); got != total {
		return fmt.Errorf("expected total %s, got %s", total, got)
	}
	return nil
}

func (c *cartFeature) productHasStock(productID string, want int) error {
	var stock int32
	err := c.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		product, err := tx.Products().LockAndRead(ctx, productID)
		stock = product.StockQuantity
		return err
	})
	if err != nil {
		return err
	}
	if int(stock) != want {
		return fmt.Errorf("expected stock %d for %s, got %d", want, productID, stock)
	}
	return nil
}

func (c *cartFeature) hasNoOpenOrder(userID string) error {
	return c.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().FindOpenOrder(ctx, userID)
		if errors.Is(err, domain.ErrCartNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("user %s still has open order %s", userID, order.ID)
	})
}

func matchFeatureError(err error, kind string) error {
	target, ok := featureErrors[kind]
	if !ok {
		return fmt.Errorf("unknown error kind %q", kind)
	}
	if !errors.Is(err, target) {
		return fmt.Errorf("expected %q, got %v", kind, err)
	}
	return nil
}

func initializeCartScenario(sc *godog.ScenarioContext) {
	c := &cartFeature{}
	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		c.reset()
		return ctx, nil
	})

	sc.Step(`^a product "([^"]*)" priced at "([^"]*)" with (\d+) units in stock$`, c.aProductPricedWithStock)
	sc.Step(`^user "([^"]*)" adds (\d+) of "([^"]*)"$`, c.userAdds)
	sc.Step(`^user "([^"]*)" sets the quantity of "([^"]*)" to (\d+)$`, c.userSetsQuantity)
	sc.Step(`^user "([^"]*)" removes (\d+) of "([^"]*)"$`, c.userRemoves)
	sc.Step(`^users "([^"]*)" and "([^"]*)" concurrently add (\d+) of "([^"]*)"$`, c.usersConcurrentlyAdd)

	sc.Step(`^the operation succeeds$`, c.theOperationSucceeds)
	sc.Step(`^the operation fails with "([^"]*)"$`, c.theOperationFailsWith)
	sc.Step(`^exactly (\d+) of the concurrent adds succeeds$`, c.exactlyConcurrentAddsSucceed)
	sc.Step(`^the other add fails with "([^"]*)"$`, c.theOtherAddFailsWith)
	sc.Step(`^the cart of "([^"]*)" has (\d+) lines?$`, c.cartHasLines)
	sc.Step(`^the cart of "([^"]*)" has (\d+) of "([^"]*)" at "([^"]*)"$`, c.cartHasLine)
	sc.Step(`^the cart total of "([^"]*)" is "([^"]*)"$`, c.cartTotalIs)
	sc.Step(`^product "([^"]*)" has (\d+) units in stock$`, c.productHasStock)
	sc.Step(`^"([^"]*)" has no open order$`, c.hasNoOpenOrder)
}

func TestCartReconciliationFeature(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "cart-reconciliation",
		ScenarioInitializer: initializeCartScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/cart_reconciliation.feature"},
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
