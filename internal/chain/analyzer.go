package chain

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/nao1215/chainscan/internal/analyzer"
	"github.com/nao1215/chainscan/internal/model"
)

// DefaultCodeCacheSize is the number of bytecode blobs kept in memory.
const DefaultCodeCacheSize = 4096

// codeKey identifies bytecode at a pinned block.
type codeKey struct {
	address common.Address
	block   uint64
}

// Analyzer classifies addresses by reading proxy storage slots from an
// Ethereum JSON-RPC node. It implements analyzer.AddressAnalyzer.
//
// Design decision: The Analyzer is shared by every run in the process, so it
// owns the two resources that must be shared too:
//  1. A token-bucket limiter, because hosted RPC plans meter the whole key
//     and not each run
//  2. An LRU bytecode cache keyed by (address, block). State at a pinned
//     block never changes, so entries are never stale
type Analyzer struct {
	client    Client
	limiter   *rate.Limiter
	codeCache *lru.Cache[codeKey, []byte]
	templates map[common.Hash]string
	logger    *slog.Logger
	cacheSize int
}

// Option configures an Analyzer.
type Option func(*Analyzer) error

// WithRateLimit limits RPC requests to rps per second with the given burst.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(a *Analyzer) error {
		if rps <= 0 {
			a.limiter = nil
			return nil
		}
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return nil
	}
}

// WithCodeCacheSize sets the bytecode cache size.
func WithCodeCacheSize(size int) Option {
	return func(a *Analyzer) error {
		if size > 0 {
			a.cacheSize = size
		}
		return nil
	}
}

// WithTemplates registers known bytecode templates by keccak256 code hash
// ("0x"-prefixed hex) so matching contracts are reported with a
// TemplateMatch.
func WithTemplates(templates map[string]string) Option {
	return func(a *Analyzer) error {
		for hash, name := range templates {
			b, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(hash), "0x"))
			if err != nil || len(b) != common.HashLength {
				return fmt.Errorf("%w: %q", ErrInvalidTemplateHash, hash)
			}
			a.templates[common.BytesToHash(b)] = name
		}
		return nil
	}
}

// WithLogger sets the logger. If not set, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) error {
		a.logger = logger
		return nil
	}
}

// NewAnalyzer creates an Analyzer reading through client.
func NewAnalyzer(client Client, opts ...Option) (*Analyzer, error) {
	a := &Analyzer{
		client:    client,
		templates: make(map[common.Hash]string),
		cacheSize: DefaultCodeCacheSize,
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}

	cache, err := lru.New[codeKey, []byte](a.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create code cache: %w", err)
	}
	a.codeCache = cache
	return a, nil
}

// Analyze implements analyzer.AddressAnalyzer.
//
// Transient RPC errors are returned so the scheduler can retry. Permanent
// errors while reading an optional field (e.g. a beacon that reverts) are
// recorded in the result's Errors and do not fail the analysis.
func (a *Analyzer) Analyze(ctx context.Context, addr model.Address, blockNumber uint64, cfg analyzer.Config) (*model.AnalysisResult, error) {
	account := toCommon(addr)
	block := new(big.Int).SetUint64(blockNumber)

	code, err := a.code(ctx, account, blockNumber, block)
	if err != nil {
		return nil, analyzer.Classify(fmt.Errorf("eth_getCode %s: %w", addr.Checksum(), err))
	}

	res := &model.AnalysisResult{Address: addr, Kind: model.KindEOA}
	if len(code) == 0 {
		return res, nil
	}

	res.Kind = model.KindContract
	res.Name = cfg.Name
	res.Values = make(map[string]any)
	codeHash := crypto.Keccak256Hash(code)
	res.Values[FieldCodeHash] = codeHash.Hex()
	res.Values[FieldCodeSize] = len(code)
	if name, ok := a.templates[codeHash]; ok {
		res.TemplateMatch = name
	}

	r := &reader{a: a, cfg: cfg, account: account, block: block, res: res}
	if err := r.detectProxy(ctx, code); err != nil {
		return nil, err
	}
	return res, nil
}

// code returns the bytecode of account, from cache when possible.
func (a *Analyzer) code(ctx context.Context, account common.Address, blockNumber uint64, block *big.Int) ([]byte, error) {
	key := codeKey{address: account, block: blockNumber}
	if code, ok := a.codeCache.Get(key); ok {
		return code, nil
	}
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	code, err := a.client.CodeAt(ctx, account, block)
	if err != nil {
		return nil, err
	}
	a.codeCache.Add(key, code)
	return code, nil
}

// wait blocks until the limiter admits one request.
func (a *Analyzer) wait(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	return a.limiter.Wait(ctx)
}

// reader collects the fields of one contract.
type reader struct {
	a       *Analyzer
	cfg     analyzer.Config
	account common.Address
	block   *big.Int
	res     *model.AnalysisResult
}

// detectProxy fills in Upgradeability and relatives.
// Checks run in a fixed order so the result is deterministic.
func (r *reader) detectProxy(ctx context.Context, code []byte) error {
	up := &model.Upgradeability{Type: TypeImmutable}
	r.res.Upgradeability = up

	impl, err := r.slot(ctx, FieldImplementation, eip1967ImplementationSlot)
	if err != nil {
		return err
	}
	beacon, err := r.slot(ctx, FieldBeacon, eip1967BeaconSlot)
	if err != nil {
		return err
	}

	switch {
	case impl != nil:
		up.Type = TypeEIP1967
	case beacon != nil:
		up.Type = TypeBeacon
		up.Beacon = beacon
		impl, err = r.beaconImplementation(ctx, *beacon)
		if err != nil {
			return err
		}
	default:
		impl, err = r.slot(ctx, FieldImplementation, eip1822ProxiableSlot)
		if err != nil {
			return err
		}
		if impl != nil {
			up.Type = TypeEIP1822
		} else if looksLikeSafeProxy(code) {
			impl, err = r.slot(ctx, FieldImplementation, safeMasterCopySlot)
			if err != nil {
				return err
			}
			if impl != nil {
				up.Type = TypeGnosisSafe
			}
		}
	}

	if impl != nil {
		up.Implementations = []model.Address{*impl}
		r.record(FieldImplementation, *impl)
	}

	if up.Type == TypeEIP1967 || up.Type == TypeBeacon {
		admin, err := r.slot(ctx, FieldAdmin, eip1967AdminSlot)
		if err != nil {
			return err
		}
		if admin != nil {
			up.Admin = admin
			r.record(FieldAdmin, *admin)
		}
	}
	if beacon != nil {
		r.record(FieldBeacon, *beacon)
	}
	return nil
}

// slot reads an address-valued storage slot. It returns nil for an empty
// slot, an ignored field or a permanent read error (recorded in Errors).
func (r *reader) slot(ctx context.Context, field string, key common.Hash) (*model.Address, error) {
	if r.cfg.IgnoresMethod(field) {
		return nil, nil
	}
	if err := r.a.wait(ctx); err != nil {
		return nil, analyzer.Classify(err)
	}
	word, err := r.a.client.StorageAt(ctx, r.account, key, r.block)
	if err != nil {
		return nil, r.fieldError(field, fmt.Errorf("eth_getStorageAt %s: %w", key.Hex(), err))
	}
	return nonZero(slotAddress(word)), nil
}

// beaconImplementation calls implementation() on beacon.
func (r *reader) beaconImplementation(ctx context.Context, beacon model.Address) (*model.Address, error) {
	if r.cfg.IgnoresMethod(FieldImplementation) {
		return nil, nil
	}
	if err := r.a.wait(ctx); err != nil {
		return nil, analyzer.Classify(err)
	}
	to := toCommon(beacon)
	out, err := r.a.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: implementationSelector}, r.block)
	if err != nil {
		return nil, r.fieldError(FieldImplementation, fmt.Errorf("implementation() on beacon %s: %w", beacon.Checksum(), err))
	}
	if len(out) < common.HashLength {
		return nil, r.fieldError(FieldImplementation, ErrShortReturnData)
	}
	return nonZero(slotAddress(out[:common.HashLength])), nil
}

// fieldError returns transient errors for retry and records the rest.
func (r *reader) fieldError(field string, err error) error {
	classified := analyzer.Classify(err)
	if analyzer.IsTransient(classified) {
		return classified
	}
	if r.res.Errors == nil {
		r.res.Errors = make(map[string]string)
	}
	r.res.Errors[field] = err.Error()
	r.a.logger.Debug("field read failed",
		"address", r.res.Address.Checksum(),
		"field", field,
		"error", err,
	)
	return nil
}

// record stores an address value and reports it as a relative.
func (r *reader) record(field string, value model.Address) {
	r.res.Values[field] = value.Checksum()
	r.res.Relatives = append(r.res.Relatives, model.Relative{Field: field, Address: value})
}

// nonZero converts a go-ethereum address, returning nil for the zero address.
func nonZero(a common.Address) *model.Address {
	if a == (common.Address{}) {
		return nil
	}
	addr := fromCommon(a)
	return &addr
}

// toCommon converts a model address to a go-ethereum address.
func toCommon(a model.Address) common.Address {
	return common.BytesToAddress(a.Bytes())
}

// fromCommon converts a go-ethereum address to a model address.
func fromCommon(a common.Address) model.Address {
	return model.MustNewAddress(a.Hex())
}
