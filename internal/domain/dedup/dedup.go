// Пакет dedup — фильтр уже сохранённых идентификаторов.
//
// IDSet — множество последних N id таблицы назначения для пакетных задач.
// Window — скользящее окно последних N id для потокового сбора.
package dedup

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bigkaa/harvester/internal/domain/model"
)

// IDSet — множество id, уже присутствующих в таблице назначения.
// Загружается из последних N записей таблицы: более старые id множество
// не видит, их отсекает ограничение уникальности при вставке.
type IDSet struct {
	ids map[string]struct{}
}

// NewIDSet создаёт множество из списка id.
func NewIDSet(ids []string) *IDSet {
	s := &IDSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Contains сообщает, есть ли id в множестве.
func (s *IDSet) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Add добавляет id (например, после успешной вставки).
func (s *IDSet) Add(ids ...string) {
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
}

// Len возвращает размер множества.
func (s *IDSet) Len() int {
	return len(s.ids)
}

// Filter делит записи на новые и дубликаты. Повторы внутри самой
// пачки тоже считаются дубликатами: сохраняется первое вхождение.
func Filter[R model.Record](s *IDSet, records []R) (fresh []R, skipped int) {
	fresh = make([]R, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		id := r.RecordID()
		if s.Contains(id) {
			skipped++
			continue
		}
		if _, dup := seen[id]; dup {
			skipped++
			continue
		}
		seen[id] = struct{}{}
		fresh = append(fresh, r)
	}
	return fresh, skipped
}

// Window — окно последних size увиденных id.
// Повторно увиденный id считается дубликатом и становится самым свежим;
// новый id при заполненном окне вытесняет самый давний.
type Window struct {
	cache *lru.Cache[string, struct{}]
}

// NewWindow создаёт окно размера size (size >= 1).
func NewWindow(size int) (*Window, error) {
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &Window{cache: cache}, nil
}

// Seed заполняет окно id из хранилища. ids упорядочены от новых к старым,
// поэтому добавляются с конца: самый новый id оказывается самым свежим.
func (w *Window) Seed(ids []string) {
	for i := len(ids) - 1; i >= 0; i-- {
		w.cache.Add(ids[i], struct{}{})
	}
}

// Seen возвращает true, если id уже в окне (дубликат).
// Иначе запоминает id и возвращает false.
func (w *Window) Seen(id string) bool {
	if _, ok := w.cache.Get(id); ok {
		return true
	}
	w.cache.Add(id, struct{}{})
	return false
}

// Contains проверяет наличие id без изменения порядка.
func (w *Window) Contains(id string) bool {
	return w.cache.Contains(id)
}

// Len возвращает число id в окне.
func (w *Window) Len() int {
	return w.cache.Len()
}
