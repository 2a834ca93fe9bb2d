package cv

import (
	"errors"
	"image"
	"os"
	"sync"
	"testing"

	"github.com/linyvhuo/webot/internal/events"
	"github.com/linyvhuo/webot/pkg/templates"
)

const testWindow WindowHandle = 0x1001

type recordingSizes struct {
	mu    sync.Mutex
	sizes map[string]image.Point
}

func (r *recordingSizes) TemplateSize(name string) (image.Point, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.sizes[name]
	return p, ok
}

func (r *recordingSizes) SetTemplateSize(name string, size image.Point) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sizes[name] = size
	return nil
}

func newTestLocator(t *testing.T, frames *FrameSource, tpls ...*templates.Template) (*Locator, *templates.Store, *recordingSizes) {
	t.Helper()
	sizes := &recordingSizes{sizes: make(map[string]image.Point)}
	store := templates.NewStore("", templates.WithSizeStore(sizes))
	for _, tpl := range tpls {
		if err := store.Register(tpl); err != nil {
			t.Fatalf("Failed to register template %s: %v", tpl.Name, err)
		}
	}
	return NewLocator(frames, exactMatcher(), store, DefaultLocatorConfig(), events.Discard), store, sizes
}

func TestLocateReturnsCenterAndResolvesSize(t *testing.T) {
	frame := noiseImage(300, 200, 1, 21)
	needle := noiseImage(30, 14, 1, 22)
	paste(frame, needle, image.Pt(100, 150))

	frames := NewFrameSource()
	frames.Set(testWindow, frame)
	loc, store, sizes := newTestLocator(t, frames, newTemplate("send_button", FamilySendButton, needle))

	p, err := loc.Locate(testWindow, "send_button")
	if err != nil {
		t.Fatalf("Locate returned error: %v", err)
	}
	if p != image.Pt(115, 157) {
		t.Errorf("Locate = %v, want center (115,157)", p)
	}

	tpl, _ := store.Get("send_button")
	if tpl.KnownSize != image.Pt(30, 14) {
		t.Errorf("KnownSize = %v, want resolved (30,14)", tpl.KnownSize)
	}
	if got, ok := sizes.TemplateSize("send_button"); !ok || got != image.Pt(30, 14) {
		t.Errorf("size not written back: %v %v", got, ok)
	}
	if last, ok := loc.LastPosition(testWindow, "send_button"); !ok || last != p {
		t.Errorf("LastPosition = %v %v", last, ok)
	}
	if observed, ok := loc.ObservedSize(testWindow, "send_button"); !ok || observed != image.Pt(30, 14) {
		t.Errorf("ObservedSize = %v %v", observed, ok)
	}
}

func TestLocateUsesKnownSizeForCenter(t *testing.T) {
	frame := noiseImage(300, 200, 1, 23)
	needle := noiseImage(20, 10, 1, 24)
	paste(frame, needle, image.Pt(40, 60))

	frames := NewFrameSource()
	frames.Set(testWindow, frame)
	tpl := newTemplate("input_box", FamilyInputBox, needle)
	tpl.KnownSize = image.Pt(100, 40)
	loc, _, _ := newTestLocator(t, frames, tpl)

	p, err := loc.Locate(testWindow, "input_box")
	if err != nil {
		t.Fatalf("Locate returned error: %v", err)
	}
	if p != image.Pt(90, 80) {
		t.Errorf("Locate = %v, want (90,80)", p)
	}
}

func TestLocateIsIdempotentOnStaticScreen(t *testing.T) {
	frame := noiseImage(200, 200, 1, 25)
	needle := noiseImage(16, 16, 1, 26)
	paste(frame, needle, image.Pt(70, 90))

	frames := NewFrameSource()
	frames.Set(testWindow, frame)
	loc, _, _ := newTestLocator(t, frames, newTemplate("workbench", FamilyNavigation, needle))

	first, err := loc.Locate(testWindow, "workbench")
	if err != nil {
		t.Fatalf("Locate returned error: %v", err)
	}
	for i := 0; i < 3; i++ {
		p, err := loc.Locate(testWindow, "workbench")
		if err != nil {
			t.Fatalf("Locate #%d returned error: %v", i+2, err)
		}
		if p != first {
			t.Errorf("Locate #%d = %v, want %v", i+2, p, first)
		}
	}
	if frames.Calls(testWindow) != 4 {
		t.Errorf("captures = %d, every Locate must capture afresh", frames.Calls(testWindow))
	}
}

func TestLocateDeadZone(t *testing.T) {
	needle := noiseImage(12, 12, 1, 27)

	tests := []struct {
		name    string
		pastes  []image.Point
		want    image.Point
		wantErr bool
	}{
		{"only origin", []image.Point{{3, 4}}, image.Point{}, true},
		{"origin then real", []image.Point{{3, 4}, {80, 50}}, image.Pt(86, 56), false},
		{"near origin on one axis", []image.Point{{3, 40}}, image.Pt(9, 46), false},
		{"exact origin", []image.Point{{0, 0}}, image.Point{}, true},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := noiseImage(160, 120, 1, uint32(100+i))
			for _, at := range tt.pastes {
				paste(frame, needle, at)
			}
			frames := NewFrameSource()
			frames.Set(testWindow, frame)
			loc, _, _ := newTestLocator(t, frames, newTemplate("icon", "", needle))

			p, err := loc.Locate(testWindow, "icon")
			if tt.wantErr {
				if !errors.Is(err, ErrNotFound) {
					t.Errorf("error = %v, want ErrNotFound", err)
				}
				if loc.Failures(testWindow, "icon") != 1 {
					t.Errorf("Failures = %d, want 1", loc.Failures(testWindow, "icon"))
				}
				return
			}
			if err != nil {
				t.Fatalf("Locate returned error: %v", err)
			}
			if p != tt.want {
				t.Errorf("Locate = %v, want %v", p, tt.want)
			}
		})
	}
}

func TestLocateErrors(t *testing.T) {
	frames := NewFrameSource()
	frames.Set(testWindow, noiseImage(40, 40, 1, 30))
	loc, _, _ := newTestLocator(t, frames, newTemplate("huge", "", noiseImage(80, 20, 1, 31)))

	if _, err := loc.Locate(testWindow, "missing"); !errors.Is(err, templates.ErrTemplateNotLoaded) {
		t.Errorf("missing template error = %v, want ErrTemplateNotLoaded", err)
	}

	_, err := loc.Locate(testWindow, "huge")
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, ErrTemplateTooLarge) {
		t.Errorf("too large error = %v, want ErrNotFound wrapping ErrTemplateTooLarge", err)
	}

	var ce *CaptureError
	if _, err := loc.Locate(0, "huge"); !errors.As(err, &ce) {
		t.Errorf("invalid handle error = %v, want CaptureError", err)
	}

	frames.Fail(testWindow, errors.New("BitBlt failed"))
	if _, err := loc.Locate(testWindow, "huge"); !errors.As(err, &ce) {
		t.Errorf("capture failure error = %v, want CaptureError", err)
	}
}

func TestLocatorReset(t *testing.T) {
	frame := noiseImage(100, 100, 1, 32)
	needle := noiseImage(10, 10, 1, 33)
	paste(frame, needle, image.Pt(50, 50))

	frames := NewFrameSource()
	frames.Set(testWindow, frame)
	loc, _, _ := newTestLocator(t, frames, newTemplate("x", "", needle))

	if _, err := loc.Locate(testWindow, "x"); err != nil {
		t.Fatalf("Locate returned error: %v", err)
	}
	loc.Reset()
	if _, ok := loc.LastPosition(testWindow, "x"); ok {
		t.Error("LastPosition survived Reset")
	}

	loc.RememberPosition(testWindow, "x", image.Pt(1, 2))
	loc.ForgetWindow(testWindow)
	if _, ok := loc.LastPosition(testWindow, "x"); ok {
		t.Error("LastPosition survived ForgetWindow")
	}
}

func TestLocateSavesDebugFrame(t *testing.T) {
	dir := t.TempDir()
	frames := NewFrameSource()
	frames.Set(testWindow, noiseImage(60, 60, 1, 34))

	store := templates.NewStore("")
	if err := store.Register(newTemplate("absent", "", noiseImage(10, 10, 1, 35))); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	cfg := DefaultLocatorConfig()
	cfg.DebugDir = dir
	loc := NewLocator(frames, exactMatcher(), store, cfg, nil)

	if _, err := loc.Locate(testWindow, "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read debug dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("debug dir has %d files, want 1", len(entries))
	}
}
