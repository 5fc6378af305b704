package registry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/cucumber/godog"
)

// RegistryBDDTestContext holds the state shared by module lifecycle steps
type RegistryBDDTestContext struct {
	registry  *Registry
	calls     map[string]*atomic.Int32
	lastError error
}

func (c *RegistryBDDTestContext) reset() {
	if c.registry != nil {
		_ = c.registry.Stop(context.Background())
	}
	c.registry = nil
	c.calls = make(map[string]*atomic.Int32)
	c.lastError = nil
}

func (c *RegistryBDDTestContext) factory(id string) Factory {
	counter := &atomic.Int32{}
	c.calls[id] = counter
	return func(context.Context) (any, error) {
		counter.Add(1)
		return &sizedInstance{name: id, size: 1024}, nil
	}
}

func (c *RegistryBDDTestContext) anEmptyModuleRegistryWithAMBBudget(mb int) error {
	c.registry = New(Config{MaxMemoryMB: mb})
	return nil
}

func (c *RegistryBDDTestContext) iRegisterModuleWithPriorityAndNoDependencies(id string, priority int) error {
	c.lastError = c.registry.Register(context.Background(), Descriptor{ID: id, Priority: priority, Factory: c.factory(id)})
	return nil
}

func (c *RegistryBDDTestContext) moduleIsRegisteredWithPriority(id string, priority int) error {
	return c.registry.Register(context.Background(), Descriptor{ID: id, Priority: priority, Factory: c.factory(id)})
}

func (c *RegistryBDDTestContext) iRegisterLazyModuleWithPriorityDependingOn(id string, priority int, dep string) error {
	c.lastError = c.registry.Register(context.Background(), Descriptor{
		ID:           id,
		Priority:     priority,
		Lazy:         true,
		Dependencies: []string{dep},
		Factory:      c.factory(id),
	})
	return nil
}

func (c *RegistryBDDTestContext) lazyModuleWithPriorityDependingOnIsLoaded(id string, priority int, dep string) error {
	if err := c.iRegisterLazyModuleWithPriorityDependingOn(id, priority, dep); err != nil {
		return err
	}
	if c.lastError != nil {
		return c.lastError
	}
	_, err := c.registry.Load(context.Background(), id)
	return err
}

func (c *RegistryBDDTestContext) iLoadModule(id string) error {
	_, c.lastError = c.registry.Load(context.Background(), id)
	return c.lastError
}

func (c *RegistryBDDTestContext) iUnloadModule(id string) error {
	return c.registry.Unload(context.Background(), id)
}

func (c *RegistryBDDTestContext) iUnregisterModule(id string) error {
	c.lastError = c.registry.Unregister(context.Background(), id)
	return nil
}

func (c *RegistryBDDTestContext) moduleShouldBe(id, status string) error {
	state, ok := c.registry.Get(id)
	if !ok {
		return fmt.Errorf("module %s is not registered", id)
	}
	if string(state.Status) != status {
		return fmt.Errorf("expected module %s to be %s, got %s", id, status, state.Status)
	}
	return nil
}

func (c *RegistryBDDTestContext) theFactoryOfShouldHaveRunTime(id string, times int) error {
	counter, ok := c.calls[id]
	if !ok {
		return fmt.Errorf("no factory recorded for %s", id)
	}
	if got := int(counter.Load()); got != times {
		return fmt.Errorf("expected factory of %s to run %d times, ran %d", id, times, got)
	}
	return nil
}

func (c *RegistryBDDTestContext) registrationShouldFailWithAMissingDependencyError() error {
	if !errors.Is(c.lastError, ErrDependencyMissing) {
		return fmt.Errorf("expected missing dependency error, got %v", c.lastError)
	}
	return nil
}

func (c *RegistryBDDTestContext) theRegistryShouldUseBytes(n int) error {
	if got := c.registry.MemoryUsage(); got != int64(n) {
		return fmt.Errorf("expected %d bytes in use, got %d", n, got)
	}
	return nil
}

func (c *RegistryBDDTestContext) unregistrationShouldFailBecauseTheModuleHasDependents() error {
	if !errors.Is(c.lastError, ErrHasDependents) {
		return fmt.Errorf("expected has-dependents error, got %v", c.lastError)
	}
	return nil
}

func TestModuleLifecycleBDD(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: func(ctx *godog.ScenarioContext) {
			testContext := &RegistryBDDTestContext{}
			ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
				testContext.reset()
				return ctx, nil
			})

			ctx.Step(`^an empty module registry with a (\d+) MB budget$`, testContext.anEmptyModuleRegistryWithAMBBudget)
			ctx.Step(`^I register module "([^"]*)" with priority (\d+) and no dependencies$`, testContext.iRegisterModuleWithPriorityAndNoDependencies)
			ctx.Step(`^module "([^"]*)" is registered with priority (\d+)$`, testContext.moduleIsRegisteredWithPriority)
			ctx.Step(`^I register lazy module "([^"]*)" with priority (\d+) depending on "([^"]*)"$`, testContext.iRegisterLazyModuleWithPriorityDependingOn)
			ctx.Step(`^lazy module "([^"]*)" with priority (\d+) depending on "([^"]*)" is loaded$`, testContext.lazyModuleWithPriorityDependingOnIsLoaded)
			ctx.Step(`^I load module "([^"]*)"$`, testContext.iLoadModule)
			ctx.Step(`^I unload module "([^"]*)"$`, testContext.iUnloadModule)
			ctx.Step(`^I unregister module "([^"]*)"$`, testContext.iUnregisterModule)
			ctx.Step(`^module "([^"]*)" should be "([^"]*)"$`, testContext.moduleShouldBe)
			ctx.Step(`^the factory of "([^"]*)" should have run (\d+) time$`, testContext.theFactoryOfShouldHaveRunTime)
			ctx.Step(`^registration should fail with a missing dependency error$`, testContext.registrationShouldFailWithAMissingDependencyError)
			ctx.Step(`^the registry should use (\d+) bytes$`, testContext.theRegistryShouldUseBytes)
			ctx.Step(`^unregistration should fail because the module has dependents$`, testContext.unregistrationShouldFailBecauseTheModuleHasDependents)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/module_lifecycle.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run BDD tests")
	}
}
