package synchub

// Record is anything stored in a cached list and addressable by id.
type Record interface {
	RecordID() string
}

// ============================================================================
// Flat list
// ============================================================================

// FlatList is a newest-first slice of records.
//
// Every method is pure: the receiver is never modified and is returned as-is
// when nothing changes. A nil list means "not materialized" and stays nil.
type FlatList[T Record] []T

func (l FlatList[T]) indexOf(id string) int {
	for i, rec := range l {
		if rec.RecordID() == id {
			return i
		}
	}
	return -1
}

// PrependIfAbsent inserts rec at the head unless its id is already present.
func (l FlatList[T]) PrependIfAbsent(rec T) FlatList[T] {
	if l == nil || l.indexOf(rec.RecordID()) >= 0 {
		return l
	}
	out := make(FlatList[T], 0, len(l)+1)
	out = append(out, rec)
	return append(out, l...)
}

// AppendIfAbsent inserts rec at the tail unless its id is already present.
func (l FlatList[T]) AppendIfAbsent(rec T) FlatList[T] {
	if l == nil || l.indexOf(rec.RecordID()) >= 0 {
		return l
	}
	out := make(FlatList[T], 0, len(l)+1)
	out = append(out, l...)
	return append(out, rec)
}

// UpdateByID replaces the first record whose id matches rec.
func (l FlatList[T]) UpdateByID(rec T) FlatList[T] {
	i := l.indexOf(rec.RecordID())
	if i < 0 {
		return l
	}
	out := append(FlatList[T](nil), l...)
	out[i] = rec
	return out
}

// DeleteByID removes the first record with the given id.
func (l FlatList[T]) DeleteByID(id string) FlatList[T] {
	i := l.indexOf(id)
	if i < 0 {
		return l
	}
	out := make(FlatList[T], 0, len(l)-1)
	out = append(out, l[:i]...)
	return append(out, l[i+1:]...)
}

// FindByID returns the first record with the given id.
func (l FlatList[T]) FindByID(id string) (T, bool) {
	if i := l.indexOf(id); i >= 0 {
		return l[i], true
	}
	var zero T
	return zero, false
}

// ============================================================================
// Infinite list
// ============================================================================

// InfiniteList is a paginated list. Pages[0] is the newest page and record 0
// of each page is its newest record. PageParams holds the cursor used to
// fetch each page and is carried through untouched.
//
// Methods follow the FlatList contract; a nil *InfiniteList stays nil.
type InfiniteList[T Record] struct {
	Pages      [][]T    `json:"pages"`
	PageParams []string `json:"pageParams"`
}

// NewInfiniteList builds a list from pages, newest first.
func NewInfiniteList[T Record](pages ...[]T) *InfiniteList[T] {
	params := make([]string, len(pages))
	return &InfiniteList[T]{Pages: pages, PageParams: params}
}

func (l *InfiniteList[T]) locate(id string) (int, int) {
	for p, page := range l.Pages {
		for i, rec := range page {
			if rec.RecordID() == id {
				return p, i
			}
		}
	}
	return -1, -1
}

// withPage returns a shallow copy of l whose page p is replaced.
func (l *InfiniteList[T]) withPage(p int, page []T) *InfiniteList[T] {
	pages := append([][]T(nil), l.Pages...)
	pages[p] = page
	return &InfiniteList[T]{Pages: pages, PageParams: l.PageParams}
}

// PrependIfAbsent inserts rec at the head of the newest page unless its id
// appears on any page.
func (l *InfiniteList[T]) PrependIfAbsent(rec T) *InfiniteList[T] {
	if l == nil {
		return nil
	}
	if p, _ := l.locate(rec.RecordID()); p >= 0 {
		return l
	}
	if len(l.Pages) == 0 {
		return &InfiniteList[T]{Pages: [][]T{{rec}}, PageParams: []string{""}}
	}
	head := make([]T, 0, len(l.Pages[0])+1)
	head = append(head, rec)
	head = append(head, l.Pages[0]...)
	return l.withPage(0, head)
}

// UpdateByID replaces the first record whose id matches rec.
func (l *InfiniteList[T]) UpdateByID(rec T) *InfiniteList[T] {
	if l == nil {
		return nil
	}
	p, i := l.locate(rec.RecordID())
	if p < 0 {
		return l
	}
	page := append([]T(nil), l.Pages[p]...)
	page[i] = rec
	return l.withPage(p, page)
}

// DeleteByID removes the first record with the given id.
func (l *InfiniteList[T]) DeleteByID(id string) *InfiniteList[T] {
	if l == nil {
		return nil
	}
	p, i := l.locate(id)
	if p < 0 {
		return l
	}
	src := l.Pages[p]
	page := make([]T, 0, len(src)-1)
	page = append(page, src[:i]...)
	page = append(page, src[i+1:]...)
	return l.withPage(p, page)
}

// FindByID returns the first record with the given id across all pages.
func (l *InfiniteList[T]) FindByID(id string) (T, bool) {
	var zero T
	if l == nil {
		return zero, false
	}
	p, i := l.locate(id)
	if p < 0 {
		return zero, false
	}
	return l.Pages[p][i], true
}

// Len counts records across all pages.
func (l *InfiniteList[T]) Len() int {
	if l == nil {
		return 0
	}
	n := 0
	for _, page := range l.Pages {
		n += len(page)
	}
	return n
}
