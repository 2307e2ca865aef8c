package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// widget is the controller type used in tests.
type widget struct {
	kind string
}

// fakeHost is a Host backed by an attribute map.
type fakeHost struct {
	attrs    map[string]string
	attached []*widget
}

func (h *fakeHost) Attr(name string) (string, bool) {
	v, ok := h.attrs[name]
	return v, ok
}

func (h *fakeHost) Attach(c *widget) {
	h.attached = append(h.attached, c)
}

func hostFor(name string) *fakeHost {
	return &fakeHost{attrs: map[string]string{DefaultAttribute: name}}
}

func widgetFactory(kind string) Factory[*widget] {
	return func(host Host[*widget]) (*widget, error) {
		return &widget{kind: kind}, nil
	}
}

func TestCheckAndInstance_Cached(t *testing.T) {
	m := NewManager[*widget]()
	m.Set("menu", widgetFactory("menu"))

	h := hostFor("menu")
	c, err := m.CheckAndInstance(context.Background(), h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.kind != "menu" {
		t.Errorf("kind = %q, want menu", c.kind)
	}
	if len(h.attached) != 1 || h.attached[0] != c {
		t.Errorf("controller not attached to host: %v", h.attached)
	}
}

func TestCheckAndInstance_ResolvesOnce(t *testing.T) {
	var calls atomic.Int32
	m := NewManager[*widget]()
	m.SetResolver(func(ctx context.Context, name string) (Factory[*widget], error) {
		calls.Add(1)
		return widgetFactory(name), nil
	})

	for i := 0; i < 2; i++ {
		if _, err := m.CheckAndInstance(context.Background(), hostFor("lazy")); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("resolver called %d times, want 1", got)
	}
	if m.State("lazy") != Resolved {
		t.Errorf("state = %v, want resolved", m.State("lazy"))
	}
}

func TestCheckAndInstance_ConcurrentResolvesOnce(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})

	m := NewManager[*widget]()
	m.SetResolver(func(ctx context.Context, name string) (Factory[*widget], error) {
		calls.Add(1)
		<-release
		return widgetFactory(name), nil
	})

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.CheckAndInstance(context.Background(), hostFor("slow"))
			errs <- err
		}()
	}

	// Wait until the resolver is in flight before letting it finish.
	deadline := time.Now().Add(2 * time.Second)
	for m.State("slow") != Resolving {
		if time.Now().After(deadline) {
			t.Fatal("resolver never started")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("resolver called %d times, want 1", got)
	}
}

func TestCheckAndInstance_SetDuringResolution(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "resolver succeeds"},
		{name: "resolver fails", err: errors.New("chunk missing")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			started := make(chan struct{})
			release := make(chan struct{})

			m := NewManager[*widget]()
			m.SetResolver(func(ctx context.Context, name string) (Factory[*widget], error) {
				close(started)
				<-release
				if tt.err != nil {
					return nil, tt.err
				}
				return widgetFactory("resolved"), nil
			})

			type result struct {
				c   *widget
				err error
			}
			done := make(chan result, 1)
			go func() {
				c, err := m.CheckAndInstance(context.Background(), hostFor("menu"))
				done <- result{c, err}
			}()

			<-started
			m.Set("menu", widgetFactory("eager"))
			close(release)

			got := <-done
			if got.err != nil {
				t.Fatalf("unexpected error: %v", got.err)
			}
			if got.c.kind != "eager" {
				t.Errorf("kind = %q, want eager", got.c.kind)
			}

			c, err := m.CheckAndInstance(context.Background(), hostFor("menu"))
			if err != nil {
				t.Fatalf("unexpected error on second call: %v", err)
			}
			if c.kind != "eager" {
				t.Errorf("cached kind = %q, want eager", c.kind)
			}
			if st := m.State("menu"); st != Resolved {
				t.Errorf("State = %v, want Resolved", st)
			}
		})
	}
}

func TestCheckAndInstance_FailureNotCached(t *testing.T) {
	var calls atomic.Int32
	lookupErr := errors.New("chunk missing")

	m := NewManager[*widget]()
	m.SetResolver(func(ctx context.Context, name string) (Factory[*widget], error) {
		if calls.Add(1) == 1 {
			return nil, lookupErr
		}
		return widgetFactory(name), nil
	})

	h := hostFor("flaky")
	_, err := m.CheckAndInstance(context.Background(), h)
	if err == nil {
		t.Fatal("expected error on first resolution")
	}
	if !IsNotFound(err) {
		t.Errorf("expected ResolutionError, got %T", err)
	}
	if !errors.Is(err, lookupErr) {
		t.Errorf("resolver error not wrapped: %v", err)
	}
	var re *ResolutionError
	if errors.As(err, &re) && re.Name != "flaky" {
		t.Errorf("ResolutionError.Name = %q", re.Name)
	}
	if m.State("flaky") != Failed {
		t.Errorf("state = %v, want failed", m.State("flaky"))
	}
	if len(h.attached) != 0 {
		t.Error("controller attached after failed resolution")
	}

	if _, err := m.CheckAndInstance(context.Background(), h); err != nil {
		t.Fatalf("retry: unexpected error: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("resolver called %d times, want 2", got)
	}
	if m.State("flaky") != Resolved {
		t.Errorf("state = %v, want resolved", m.State("flaky"))
	}
}

func TestCheckAndInstance_NoResolver(t *testing.T) {
	m := NewManager[*widget]()

	_, err := m.CheckAndInstance(context.Background(), hostFor("ghost"))
	if !errors.Is(err, ErrNoResolver) {
		t.Fatalf("error = %v, want ErrNoResolver", err)
	}
	if !IsNotFound(err) {
		t.Error("expected ErrControllerNotFound to match")
	}
}

func TestCheckAndInstance_NoAttribute(t *testing.T) {
	m := NewManager[*widget]()

	_, err := m.CheckAndInstance(context.Background(), &fakeHost{})
	if !errors.Is(err, ErrNoControllerAttribute) {
		t.Fatalf("error = %v, want ErrNoControllerAttribute", err)
	}
}

func TestCheckAndInstance_CustomAttribute(t *testing.T) {
	m := NewManager[*widget](WithAttribute("data-controller"))
	m.Set("tabs", widgetFactory("tabs"))

	h := &fakeHost{attrs: map[string]string{"data-controller": "tabs"}}
	if _, err := m.CheckAndInstance(context.Background(), h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Attribute() != "data-controller" {
		t.Errorf("Attribute() = %q", m.Attribute())
	}
}

func TestCheckAndInstance_FactoryError(t *testing.T) {
	m := NewManager[*widget]()
	m.Set("broken", func(host Host[*widget]) (*widget, error) {
		return nil, errors.New("bad host")
	})

	h := hostFor("broken")
	if _, err := m.CheckAndInstance(context.Background(), h); err == nil {
		t.Fatal("expected factory error")
	}
	if len(h.attached) != 0 {
		t.Error("controller attached after factory error")
	}
}

func TestNames(t *testing.T) {
	m := NewManager[*widget]()
	m.Set("b", widgetFactory("b"))
	m.Set("a", widgetFactory("a"))

	names := m.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names() = %v", names)
	}
	if m.State("c") != Unresolved {
		t.Errorf("State(c) = %v, want unresolved", m.State("c"))
	}
}
