// Package progress реализует координатор прогресса и завершения фаз задач:
// пер-задачные счётчики обработанных активов и идемпотентную публикацию
// сигнала о завершении фазы.
package progress

import "sync"

// Key — ключ счётчика прогресса: задача и вид актива.
type Key struct {
	JobID string
	Kind  string
}

// ExpectedUnknown — ожидаемое число активов ещё не зарегистрировано.
// Отличает "ждать нечего" (0) от "неизвестно, сколько ждать": сигналы
// приходят без гарантии порядка, и инкремент может опередить регистрацию.
const ExpectedUnknown int64 = -1

// entry — состояние одного ключа. Все изменения entry выполняются под его
// собственным мьютексом; флаги публикации хранятся здесь же, чтобы проверка
// и установка выполнялись атомарно с чтением счётчиков.
type entry struct {
	mu        sync.Mutex
	expected  int64
	done      int64
	published map[string]bool // event_prefix → уже опубликовано
}

// Tracker — владеющее хранилище счётчиков прогресса. Создаётся на процесс и
// внедряется в вызывающих; состояние никогда не разделяется между задачами.
type Tracker struct {
	mu      sync.Mutex
	entries map[Key]*entry
}

func NewTracker() *Tracker {
	return &Tracker{
		entries: make(map[Key]*entry),
	}
}

// RegisterExpected выставляет ожидаемое число активов для ключа.
// Семантика last-write-wins: ранняя оптимистичная оценка замещается
// уточнённой, когда все производители отчитались.
func (t *Tracker) RegisterExpected(jobID, kind string, n int64) {
	e := t.entry(jobID, kind)

	e.mu.Lock()
	e.expected = n
	e.mu.Unlock()
}

// Increment атомарно увеличивает счётчик обработанных активов.
// Конкурентные вызовы учитываются каждый ровно один раз.
func (t *Tracker) Increment(jobID, kind string) (done, expected int64) {
	e := t.entry(jobID, kind)

	e.mu.Lock()
	e.done++
	done, expected = e.done, e.expected
	e.mu.Unlock()

	return done, expected
}

// Get возвращает текущие (expected, done) для ключа.
func (t *Tracker) Get(jobID, kind string) (expected, done int64) {
	e := t.entry(jobID, kind)

	e.mu.Lock()
	expected, done = e.expected, e.done
	e.mu.Unlock()

	return expected, done
}

// DiscardJob удаляет всё состояние задачи. Вызывается при teardown задачи;
// брошенная на середине работа не влияет на счётчики других задач, так как
// состояние между задачами не разделяется.
func (t *Tracker) DiscardJob(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key := range t.entries {
		if key.JobID == jobID {
			delete(t.entries, key)
		}
	}
}

// entry лениво создаёт состояние ключа при первом обращении.
func (t *Tracker) entry(jobID, kind string) *entry {
	key := Key{JobID: jobID, Kind: kind}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		e = &entry{
			expected:  ExpectedUnknown,
			published: make(map[string]bool),
		}
		t.entries[key] = e
	}

	return e
}
