package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// fakeSession scripts the booking site. Each search click advances to the next table in
// tables; the last one repeats. Each booking click answers with the next dialog in dialogs,
// where "" means no dialog.
type fakeSession struct {
	site Site

	mu        sync.Mutex
	links     []string
	tables    []string
	dialogs   []string
	location  string
	afterBook string

	searchErr       error
	htmlErr         error
	failHourValue   bool
	failOrigin      bool
	panicOnNavigate bool
	onSearch        func(n int)
	onBook          func()

	searches  int
	bookings  []string
	selects   []string
	navigated []string
	closes    int
	dialog    func(string)
}

func newFakeSession(site Site) *fakeSession {
	return &fakeSession{
		site:  site,
		links: []string{"로그아웃", "마이페이지"},
	}
}

func (f *fakeSession) launcher() Launcher {
	return LauncherFunc(func(context.Context) (Session, error) { return f, nil })
}

func (f *fakeSession) Navigate(_ context.Context, url string) error {
	if f.panicOnNavigate {
		panic("navigate exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.location = url
	f.navigated = append(f.navigated, url)
	return nil
}

func (f *fakeSession) Fill(context.Context, string, string) error { return nil }
func (f *fakeSession) Clear(context.Context, string) error        { return nil }
func (f *fakeSession) SendKeys(context.Context, string, string) error {
	return nil
}
func (f *fakeSession) PressEnter(context.Context, string) error { return nil }

func (f *fakeSession) Click(_ context.Context, sel string) error {
	f.mu.Lock()
	switch {
	case sel == f.site.OriginField && f.failOrigin:
		f.mu.Unlock()
		return errors.New("origin field not interactable")

	case sel == f.site.SearchButton:
		f.searches++
		n, hook, err := f.searches, f.onSearch, f.searchErr
		f.mu.Unlock()
		if hook != nil {
			hook(n)
		}
		return err

	case strings.Contains(sel, "tr:nth-child("):
		f.bookings = append(f.bookings, sel)
		text := ""
		if len(f.dialogs) > 0 {
			text = f.dialogs[min(len(f.bookings), len(f.dialogs))-1]
		}
		if f.afterBook != "" {
			f.location = f.afterBook
		}
		fn, hook := f.dialog, f.onBook
		f.mu.Unlock()
		if hook != nil {
			hook()
		}
		if text != "" && fn != nil {
			fn(text)
		}
		return nil
	}
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) SelectByValue(_ context.Context, sel, v string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selects = append(f.selects, "value:"+v)
	if f.failHourValue && sel == f.site.HourField {
		return fmt.Errorf("no option %q", v)
	}
	return nil
}

func (f *fakeSession) SelectByLabel(_ context.Context, _ string, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selects = append(f.selects, "label:"+label)
	return nil
}

func (f *fakeSession) Texts(context.Context, string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links, nil
}

func (f *fakeSession) OuterHTML(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.htmlErr != nil {
		return "", f.htmlErr
	}
	if len(f.tables) == 0 {
		return "<table><tbody></tbody></table>", nil
	}
	return f.tables[min(f.searches, len(f.tables))-1], nil
}

func (f *fakeSession) WaitVisible(context.Context, string, time.Duration) error { return nil }
func (f *fakeSession) WaitReady(context.Context, time.Duration) error           { return nil }

func (f *fakeSession) Location(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.location, nil
}

func (f *fakeSession) OnDialog(fn func(string)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialog = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.dialog = nil
	}
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeSession) counts() (searches, bookings, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searches, len(f.bookings), f.closes
}

func resultsTable(rows ...[2]string) string {
	var b strings.Builder
	b.WriteString("<table><tbody>")
	for _, r := range rows {
		fmt.Fprintf(&b, "<tr><td>1</td><td>SRT</td><td>수서</td><td><em>%s</em></td><td>부산</td><td>-</td><td><a href=\"#\">%s</a></td></tr>", r[0], r[1])
	}
	b.WriteString("</tbody></table>")
	return b.String()
}
