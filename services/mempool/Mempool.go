// Package mempool holds validated transactions that are not yet in a block.
//
// Every transaction in the pool is valid against the canonical unspent set extended by the effects of
// the transactions admitted before it, so the pool as a whole never contains two spends of the same
// output. The chain manager is the only writer: it admits transactions and tells the pool about
// connected blocks and reorganizations.
package mempool

import (
	"math/bits"
	"slices"
	"sync"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
	"github.com/bsv-blockchain/powledger/services/validator"
	"github.com/bsv-blockchain/powledger/settings"
	"github.com/bsv-blockchain/powledger/stores/utxo"
	"github.com/bsv-blockchain/powledger/ulogger"
	"github.com/dolthub/swiss"
)

const initialCapacity = 1024

// Entry is a transaction in the pool.
type Entry struct {
	Tx      *model.Transaction
	TxID    chainhash.Hash
	Fee     uint64
	Size    int
	Height  uint32
	AddedAt time.Time
	seq     uint64
}

// FeeRateHigher reports whether e pays a strictly higher fee per byte than other. The rates are
// compared exactly by cross multiplication.
func (e *Entry) FeeRateHigher(other *Entry) bool {
	hiA, loA := bits.Mul64(e.Fee, uint64(other.Size)) //nolint:gosec // sizes are positive
	hiB, loB := bits.Mul64(other.Fee, uint64(e.Size)) //nolint:gosec // as above

	if hiA != hiB {
		return hiA > hiB
	}

	return loA > loB
}

// before orders entries for mining: higher fee rate first, then earlier arrival.
func (e *Entry) before(other *Entry) bool {
	if e.FeeRateHigher(other) {
		return true
	}

	if other.FeeRateHigher(e) {
		return false
	}

	return e.seq < other.seq
}

type Mempool struct {
	logger    ulogger.Logger
	settings  *settings.Settings
	validator validator.Interface

	mu      sync.RWMutex
	entries *swiss.Map[chainhash.Hash, *Entry]
	spends  *swiss.Map[model.Outpoint, chainhash.Hash]
	nextSeq uint64

	// view holds the effects of every entry over viewBase. It is dropped whenever entries are
	// removed or the base changes and rebuilt on the next admission.
	view     *utxo.View
	viewBase utxo.Reader

	now func() time.Time
}

func New(logger ulogger.Logger, tSettings *settings.Settings, txValidator validator.Interface) *Mempool {
	initPrometheusMetrics()

	return &Mempool{
		logger:    logger,
		settings:  tSettings,
		validator: txValidator,
		entries:   swiss.NewMap[chainhash.Hash, *Entry](initialCapacity),
		spends:    swiss.NewMap[model.Outpoint, chainhash.Hash](initialCapacity),
		now:       time.Now,
	}
}

// Add validates tx against base extended by the pool and admits it. height is the canonical height at
// admission.
func (m *Mempool) Add(tx *model.Transaction, base utxo.Reader, height uint32) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.add(tx, base, height, m.now())
	if err != nil {
		prometheusMempoolRejected.WithLabelValues(errors.CodeOf(err).Enum()).Inc()
		return nil, err
	}

	prometheusMempoolAdded.Inc()
	prometheusMempoolSize.Set(float64(m.entries.Count()))

	return entry, nil
}

func (m *Mempool) add(tx *model.Transaction, base utxo.Reader, height uint32, addedAt time.Time) (*Entry, error) {
	if tx.IsCoinbase() {
		return nil, errors.NewTxCoinbaseError("[Mempool][Add] coinbase %s cannot enter the mempool", tx.TxID())
	}

	txID := tx.TxID()

	if m.entries.Has(txID) {
		return nil, errors.NewTxExistsError("[Mempool][Add] %s already in the mempool", txID)
	}

	for _, in := range tx.Inputs {
		if spender, ok := m.spends.Get(in.Outpoint()); ok {
			return nil, errors.NewTxDoubleSpendError("[Mempool][Add] %s spends %s already spent by %s", txID, in.Outpoint(), spender)
		}
	}

	view := m.viewOver(base)

	fee, err := m.validator.ValidateTransaction(tx, view)
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		Tx:      tx,
		TxID:    txID,
		Fee:     fee,
		Size:    tx.Size(),
		Height:  height,
		AddedAt: addedAt,
	}

	if m.entries.Count() >= m.settings.Mempool.MaxTransactions {
		if err = m.makeRoom(entry); err != nil {
			return nil, err
		}

		view = m.viewOver(base)
	}

	if _, err = view.ApplyTx(tx, 0); err != nil {
		return nil, err
	}

	entry.seq = m.nextSeq
	m.nextSeq++

	m.entries.Put(txID, entry)

	for _, in := range tx.Inputs {
		m.spends.Put(in.Outpoint(), txID)
	}

	return entry, nil
}

// makeRoom evicts the cheapest entry, with its descendants, when newcomer pays a strictly higher fee
// rate. Ancestors of newcomer are never evicted for it.
func (m *Mempool) makeRoom(newcomer *Entry) error {
	ancestors := m.ancestors(newcomer.Tx)

	var lowest *Entry

	m.entries.Iter(func(txID chainhash.Hash, e *Entry) bool {
		if _, ok := ancestors[txID]; ok {
			return false
		}

		// among equal rates the latest arrival goes first
		if lowest == nil || lowest.FeeRateHigher(e) || (!e.FeeRateHigher(lowest) && e.seq > lowest.seq) {
			lowest = e
		}

		return false
	})

	if lowest == nil || !newcomer.FeeRateHigher(lowest) {
		return errors.NewMempoolFullError("[Mempool][Add] mempool holds %d transactions and %s does not pay enough to replace one", m.entries.Count(), newcomer.TxID)
	}

	m.logger.Debugf("[Mempool][Add] evicting %s for %s", lowest.TxID, newcomer.TxID)
	m.removeWithDescendants(lowest.TxID, "evicted")

	return nil
}

// ancestors returns the in-pool transactions tx depends on, directly or not.
func (m *Mempool) ancestors(tx *model.Transaction) map[chainhash.Hash]struct{} {
	result := make(map[chainhash.Hash]struct{})
	queue := []*model.Transaction{tx}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, in := range current.Inputs {
			if _, seen := result[in.PreviousTxID]; seen {
				continue
			}

			if parent, ok := m.entries.Get(in.PreviousTxID); ok {
				result[in.PreviousTxID] = struct{}{}
				queue = append(queue, parent.Tx)
			}
		}
	}

	return result
}

// viewOver returns the pool's effects staged over base, rebuilding them if needed. Entries are
// replayed in arrival order, which always puts parents before children.
func (m *Mempool) viewOver(base utxo.Reader) *utxo.View {
	if m.view != nil && m.viewBase == base {
		return m.view
	}

	view := utxo.NewView(base)

	for _, e := range m.sortedBySeq() {
		if _, err := view.ApplyTx(e.Tx, 0); err != nil {
			// the chain manager reconciles the pool after every block, so this is a bug
			m.logger.Errorf("[Mempool] entry %s no longer applies: %v", e.TxID, err)
		}
	}

	m.view = view
	m.viewBase = base

	return view
}

func (m *Mempool) invalidateView() {
	m.view = nil
	m.viewBase = nil
}

func (m *Mempool) sortedBySeq() []*Entry {
	list := make([]*Entry, 0, m.entries.Count())

	m.entries.Iter(func(_ chainhash.Hash, e *Entry) bool {
		list = append(list, e)
		return false
	})

	slices.SortFunc(list, func(a, b *Entry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})

	return list
}

// removeWithDescendants drops txID and every entry spending its outputs.
func (m *Mempool) removeWithDescendants(txID chainhash.Hash, reason string) int {
	entry, ok := m.entries.Get(txID)
	if !ok {
		return 0
	}

	removed := m.remove(entry, reason)

	for i := range entry.Tx.Outputs {
		op := model.Outpoint{TxID: txID, Index: uint32(i)} //nolint:gosec // output count is bounded by decoding

		if child, ok := m.spends.Get(op); ok {
			removed += m.removeWithDescendants(child, reason)
		}
	}

	return removed
}

// remove drops a single entry.
func (m *Mempool) remove(entry *Entry, reason string) int {
	m.entries.Delete(entry.TxID)

	for _, in := range entry.Tx.Inputs {
		if spender, ok := m.spends.Get(in.Outpoint()); ok && spender == entry.TxID {
			m.spends.Delete(in.Outpoint())
		}
	}

	m.invalidateView()
	prometheusMempoolRemoved.WithLabelValues(reason).Inc()

	return 1
}

// SelectTransactions returns up to limit transactions for a block, by descending fee rate with ties
// going to the earlier arrival. A transaction is only selected after all of its in-pool parents, so
// the result is valid in order against the canonical set.
func (m *Mempool) SelectTransactions(limit int) []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := m.sortedBySeq()
	slices.SortStableFunc(candidates, func(a, b *Entry) int {
		switch {
		case a.before(b):
			return -1
		case b.before(a):
			return 1
		default:
			return 0
		}
	})

	selected := make([]*Entry, 0, min(limit, len(candidates)))
	done := make(map[chainhash.Hash]struct{}, len(candidates))

	for len(selected) < limit {
		picked := false

		for _, e := range candidates {
			if _, ok := done[e.TxID]; ok {
				continue
			}

			if !m.parentsIn(e, done) {
				continue
			}

			selected = append(selected, e)
			done[e.TxID] = struct{}{}
			picked = true

			break
		}

		if !picked {
			break
		}
	}

	return selected
}

func (m *Mempool) parentsIn(e *Entry, done map[chainhash.Hash]struct{}) bool {
	for _, in := range e.Tx.Inputs {
		if !m.entries.Has(in.PreviousTxID) {
			continue
		}

		if _, ok := done[in.PreviousTxID]; !ok {
			return false
		}
	}

	return true
}

// BlockConnected removes the transactions block confirmed and every entry, with descendants, that
// spends an output the block consumed through a different transaction.
func (m *Mempool) BlockConnected(block *model.Block) (confirmed, conflicted int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tx := range block.Transactions {
		if entry, ok := m.entries.Get(tx.TxID()); ok {
			confirmed += m.remove(entry, "confirmed")
		}
	}

	for _, tx := range block.Transactions {
		if tx.IsCoinbase() {
			continue
		}

		for _, in := range tx.Inputs {
			if spender, ok := m.spends.Get(in.Outpoint()); ok {
				m.logger.Debugf("[Mempool][BlockConnected] %s conflicts with block %s", spender, block.Hash())
				conflicted += m.removeWithDescendants(spender, "conflict")
			}
		}
	}

	m.invalidateView()
	prometheusMempoolSize.Set(float64(m.entries.Count()))

	return confirmed, conflicted
}

// Readmit rebuilds the pool after a reorganization against the new canonical set base. The
// transactions of the abandoned blocks are offered first, in block order, followed by the current
// entries in arrival order. Whatever no longer validates is dropped.
func (m *Mempool) Readmit(abandoned []*model.Transaction, base utxo.Reader, height uint32) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.sortedBySeq()

	m.entries.Clear()
	m.spends.Clear()
	m.invalidateView()

	readmitted := 0
	now := m.now()

	for _, tx := range abandoned {
		if tx.IsCoinbase() {
			continue
		}

		if _, err := m.add(tx, base, height, now); err != nil {
			m.logger.Debugf("[Mempool][Readmit] dropping %s: %v", tx.TxID(), err)
			continue
		}

		readmitted++
	}

	for _, e := range current {
		if _, err := m.add(e.Tx, base, e.Height, e.AddedAt); err != nil {
			m.logger.Debugf("[Mempool][Readmit] dropping %s: %v", e.TxID, err)
			prometheusMempoolRemoved.WithLabelValues("conflict").Inc()
		}
	}

	prometheusMempoolSize.Set(float64(m.entries.Count()))

	return readmitted
}

// Expire drops entries older than the configured age, with their descendants.
func (m *Mempool) Expire(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-m.settings.Mempool.MaxTxAge)

	var expired []chainhash.Hash

	m.entries.Iter(func(txID chainhash.Hash, e *Entry) bool {
		if e.AddedAt.Before(cutoff) {
			expired = append(expired, txID)
		}

		return false
	})

	removed := 0
	for _, txID := range expired {
		removed += m.removeWithDescendants(txID, "expired")
	}

	if removed > 0 {
		m.logger.Infof("[Mempool][Expire] removed %d transactions older than %s", removed, m.settings.Mempool.MaxTxAge)
	}

	prometheusMempoolSize.Set(float64(m.entries.Count()))

	return removed
}

// View returns a view with the effects of every entry over base. Callers own the returned view.
func (m *Mempool) View(base utxo.Reader) *utxo.View {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool := m.viewOver(base)

	// stack a fresh view so the caller cannot disturb the cached one
	return utxo.NewView(pool)
}

func (m *Mempool) Get(txID chainhash.Hash) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.entries.Get(txID)
}

func (m *Mempool) Has(txID chainhash.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.entries.Has(txID)
}

func (m *Mempool) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.entries.Count()
}

// Entries returns every entry in arrival order.
func (m *Mempool) Entries() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sortedBySeq()
}

func (m *Mempool) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries.Clear()
	m.spends.Clear()
	m.invalidateView()

	prometheusMempoolSize.Set(0)
}
