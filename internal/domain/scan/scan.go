// Пакет scan — обход диапазона дат назад во времени.
//
// FindGenesis ищет самую раннюю доступную запись диапазона двухфазным
// поиском: сначала шагом в год, затем шагом в месяц.
// Walker постранично идёт от конца диапазона к началу; курсор — граница,
// новее которой всё уже получено.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/harvester/internal/domain/model"
)

var (
	// ErrNoRecords — в диапазоне нет ни одной записи.
	ErrNoRecords = errors.New("в диапазоне нет записей")
	// ErrInvalidRange — конец диапазона не позже начала.
	ErrInvalidRange = errors.New("некорректный диапазон дат")
	// ErrNoProgress — источник вернул записи вне запрошенного окна, курсор не сдвинулся.
	ErrNoProgress = errors.New("курсор обхода не сдвинулся")
)

// Source — источник записей, созданных в [start, end].
// Возвращает одну страницу, от новых к старым; пустая страница — записей нет.
type Source[R model.Record] interface {
	Window(ctx context.Context, start, end time.Time) ([]R, error)
}

// SourceFunc — адаптер функции к Source.
type SourceFunc[R model.Record] func(ctx context.Context, start, end time.Time) ([]R, error)

// Window вызывает f.
func (f SourceFunc[R]) Window(ctx context.Context, start, end time.Time) ([]R, error) {
	return f(ctx, start, end)
}

// FindGenesis возвращает время самой ранней записи в [start, end].
//
// Фаза лет: пока окно [start, end] не пусто, end сдвигается на год назад;
// на первом пустом окне end возвращается на год вперёд (не дальше исходного end).
// Фаза месяцев: пока окно не пусто, запоминается самая старая запись окна,
// а end становится последней секундой предыдущего месяца.
func FindGenesis[R model.Record](ctx context.Context, src Source[R], start, end time.Time, logger *slog.Logger) (time.Time, error) {
	if !end.After(start) {
		return time.Time{}, fmt.Errorf("%w: %s — %s", ErrInvalidRange, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	probe := func(probeEnd time.Time) ([]R, error) {
		if probeEnd.Before(start) {
			return nil, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return src.Window(ctx, start, probeEnd)
	}

	// Фаза лет
	probeEnd := end
	for {
		page, err := probe(probeEnd)
		if err != nil {
			return time.Time{}, fmt.Errorf("поиск первой записи (год %d): %w", probeEnd.Year(), err)
		}
		if len(page) == 0 {
			probeEnd = probeEnd.AddDate(1, 0, 0)
			if probeEnd.After(end) {
				probeEnd = end
			}
			break
		}
		logger.Debug("Поиск первой записи: год не пуст",
			slog.Time("end", probeEnd),
			slog.Int("count", len(page)),
		)
		probeEnd = probeEnd.AddDate(-1, 0, 0)
	}

	// Фаза месяцев
	var origin time.Time
	found := false
	for {
		page, err := probe(probeEnd)
		if err != nil {
			return time.Time{}, fmt.Errorf("поиск первой записи (месяц %s): %w", probeEnd.Format("2006-01"), err)
		}
		if len(page) == 0 {
			break
		}
		origin = model.OldestCreated(page)
		found = true
		logger.Debug("Поиск первой записи: месяц не пуст",
			slog.Time("end", probeEnd),
			slog.Time("oldest", origin),
		)
		probeEnd = endOfPreviousMonth(probeEnd)
	}

	if !found {
		return time.Time{}, ErrNoRecords
	}
	return origin, nil
}

// endOfPreviousMonth возвращает последнюю секунду месяца, предшествующего t.
func endOfPreviousMonth(t time.Time) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return first.Add(-time.Second)
}

// Walker — постраничный обход [start, end] от новых записей к старым.
type Walker[R model.Record] struct {
	src   Source[R]
	start time.Time
	end   time.Time

	cursor time.Time
	done   bool
}

// NewWalker создаёт обход диапазона [start, end].
func NewWalker[R model.Record](src Source[R], start, end time.Time) *Walker[R] {
	return &Walker[R]{src: src, start: start, end: end, cursor: end}
}

// Resume продолжает обход с сохранённого курсора.
// Курсор вне диапазона игнорируется.
func (w *Walker[R]) Resume(cursor time.Time) bool {
	if cursor.Before(w.start) || cursor.After(w.end) {
		return false
	}
	w.cursor = cursor
	return true
}

// Next возвращает следующую страницу. Пустая страница без ошибки —
// обход завершён (Done() == true).
func (w *Walker[R]) Next(ctx context.Context) ([]R, error) {
	if w.done {
		return nil, nil
	}
	if w.cursor.Before(w.start) {
		w.done = true
		return nil, nil
	}

	page, err := w.src.Window(ctx, w.start, w.cursor)
	if err != nil {
		return nil, err
	}
	if len(page) == 0 {
		w.done = true
		return nil, nil
	}

	next := model.OldestCreated(page).Truncate(time.Second).Add(-time.Second)
	if !next.Before(w.cursor) {
		return nil, fmt.Errorf("%w: %s", ErrNoProgress, w.cursor.Format(time.RFC3339))
	}
	w.cursor = next
	return page, nil
}

// Cursor возвращает текущую границу: всё, что новее, уже получено.
func (w *Walker[R]) Cursor() time.Time {
	return w.cursor
}

// Done сообщает, что обход завершён.
func (w *Walker[R]) Done() bool {
	return w.done
}

// Progress возвращает долю пройденного диапазона в процентах.
func (w *Walker[R]) Progress() float64 {
	if w.done {
		return 100
	}
	total := w.end.Sub(w.start).Seconds()
	if total <= 0 {
		return 100
	}
	p := w.end.Sub(w.cursor).Seconds() / total * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
