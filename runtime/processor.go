package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"nftmarket/core/events"
	"nftmarket/core/types"
	"nftmarket/crypto"
	"nftmarket/ledger"
	"nftmarket/native/marketplace"
	"nftmarket/observability"
	"nftmarket/observability/metrics"
)

const (
	// MaxAccounts bounds the accounts a single transaction may declare.
	MaxAccounts = 16
	// MaxDataSize bounds the instruction payload.
	MaxDataSize = 1024

	receiptKeyPrefix = "tx/"
)

var (
	ErrDuplicateTransaction = errors.New("runtime: transaction already processed")
	ErrUnknownProgram       = errors.New("runtime: unknown program")
	ErrUnknownInstruction   = errors.New("runtime: unknown instruction")
	ErrMalformedTransaction = errors.New("runtime: malformed transaction")
)

// Receipt describes a committed transaction.
type Receipt struct {
	Hash        string        `json:"hash"`
	Program     string        `json:"program"`
	Instruction string        `json:"instruction"`
	Events      []types.Event `json:"events"`
	CommittedAt int64         `json:"committedAt"`
}

// Processor verifies transactions and dispatches them to the system program
// or the marketplace engine inside a single ledger transaction.
type Processor struct {
	ledger  *ledger.Ledger
	market  *marketplace.Engine
	emitter events.Emitter
	metrics *metrics.MarketplaceMetrics
	tracer  trace.Tracer
	txCount metric.Int64Counter
	logger  *slog.Logger
}

// NewProcessor wires a processor over l serving the marketplace engine.
func NewProcessor(l *ledger.Ledger, engine *marketplace.Engine) *Processor {
	return &Processor{
		ledger:  l,
		market:  engine,
		tracer:  otel.Tracer("nftmarket/runtime"),
		emitter: events.NoopEmitter{},
		txCount: newTxCounter(otel.Meter("nftmarket/runtime")),
		logger:  slog.Default(),
	}
}

// newTxCounter mirrors the Prometheus transaction series onto the OTLP
// pipeline.
func newTxCounter(meter metric.Meter) metric.Int64Counter {
	counter, err := meter.Int64Counter("nftmarket.transactions",
		metric.WithDescription("Transactions processed, by instruction and result code"),
		metric.WithUnit("{transaction}"))
	if err != nil {
		return noop.Int64Counter{}
	}
	return counter
}

// SetBus configures where committed events are published.
func (p *Processor) SetBus(bus events.Emitter) {
	if bus == nil {
		bus = events.NoopEmitter{}
	}
	p.emitter = bus
}

// SetMetrics configures the metrics registry. Nil disables metrics.
func (p *Processor) SetMetrics(m *metrics.MarketplaceMetrics) { p.metrics = m }

// SetLogger configures the logger. Passing nil restores slog.Default().
func (p *Processor) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	p.logger = logger
}

// Ledger exposes the underlying ledger for read paths.
func (p *Processor) Ledger() *ledger.Ledger { return p.ledger }

// Program returns the marketplace program identity.
func (p *Processor) Program() crypto.Address { return p.market.Program() }

// Submit verifies tx, executes it atomically and publishes its events.
func (p *Processor) Submit(ctx context.Context, tx *types.Transaction) (*Receipt, error) {
	start := time.Now()
	instruction := "unknown"
	if tx != nil {
		instruction = tx.Instruction.String()
	}
	ctx, span := p.tracer.Start(ctx, "runtime.Submit", trace.WithAttributes(
		attribute.String("instruction", instruction),
	))
	defer span.End()

	receipt, err := p.submit(ctx, tx)
	code := Code(err)
	p.metrics.ObserveTransaction(instruction, code, time.Since(start))
	result := code
	if result == "" {
		result = "ok"
	}
	p.txCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("instruction", instruction),
		attribute.String("code", result),
	))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
		level := slog.LevelInfo
		if !IsClientError(err) {
			level = slog.LevelError
		}
		p.logger.Log(ctx, level, "transaction rejected",
			slog.String("instruction", instruction),
			slog.String("code", code),
			slog.Any("error", err))
		return nil, err
	}
	span.SetAttributes(attribute.String("tx.hash", receipt.Hash))
	p.logger.Info("transaction committed",
		slog.String("instruction", instruction),
		slog.String("hash", receipt.Hash),
		slog.Int("events", len(receipt.Events)))
	return receipt, nil
}

func (p *Processor) submit(ctx context.Context, tx *types.Transaction) (*Receipt, error) {
	if err := validateShape(tx); err != nil {
		return nil, err
	}
	if err := tx.VerifySignatures(); err != nil {
		return nil, err
	}
	hash, err := tx.HashHex()
	if err != nil {
		return nil, err
	}
	env := ledger.Env{Program: tx.Program, Accounts: make([]ledger.AccountMeta, len(tx.Accounts))}
	for i, ref := range tx.Accounts {
		env.Accounts[i] = ledger.AccountMeta{Address: ref.Address, Signer: ref.Signer, Writable: ref.Writable}
	}

	var settled uint64
	receipt := &Receipt{Hash: hash, Program: tx.Program.String(), Instruction: tx.Instruction.String()}
	commit, err := p.ledger.Execute(ctx, env, func(txn *ledger.Txn) error {
		seen, err := txn.HasMeta(receiptKeyPrefix + hash)
		if err != nil {
			return err
		}
		if seen {
			return fmt.Errorf("%w: %s", ErrDuplicateTransaction, hash)
		}
		settled, err = p.dispatch(txn, tx)
		if err != nil {
			return err
		}
		receipt.CommittedAt = txn.Now()
		encoded, err := json.Marshal(receipt)
		if err != nil {
			return err
		}
		txn.PutMeta(receiptKeyPrefix+hash, encoded)
		return nil
	})
	if err != nil {
		return nil, err
	}
	receipt.Events = commit.Events
	p.publish(commit.Events)
	if settled > 0 {
		p.metrics.AddSettledVolume(settled)
	}
	return receipt, nil
}

func (p *Processor) publish(evts []types.Event) {
	if len(evts) == 0 {
		return
	}
	for _, evt := range evts {
		observability.Events().RecordPublished(evt.Type)
		p.emitter.Emit(evt)
	}
}

// Receipt returns the stored receipt for a committed transaction hash. Event
// payloads are not retained.
func (p *Processor) Receipt(hash string) (*Receipt, bool, error) {
	raw, ok, err := p.ledger.Meta(receiptKeyPrefix + hash)
	if err != nil || !ok {
		return nil, ok, err
	}
	var receipt Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, false, fmt.Errorf("runtime: decode receipt: %w", err)
	}
	return &receipt, true, nil
}

func validateShape(tx *types.Transaction) error {
	if tx == nil {
		return fmt.Errorf("%w: empty transaction", ErrMalformedTransaction)
	}
	if len(tx.Accounts) == 0 || len(tx.Accounts) > MaxAccounts {
		return fmt.Errorf("%w: %d accounts", ErrMalformedTransaction, len(tx.Accounts))
	}
	if len(tx.Data) > MaxDataSize {
		return fmt.Errorf("%w: data exceeds %d bytes", ErrMalformedTransaction, MaxDataSize)
	}
	// Copies of one transaction must contend for an exclusive lock so the
	// receipt check cannot pass twice.
	for _, ref := range tx.Accounts {
		if ref.Writable {
			return nil
		}
	}
	return fmt.Errorf("%w: no writable account", ErrMalformedTransaction)
}

func requireAccounts(tx *types.Transaction, n int) error {
	if len(tx.Accounts) < n {
		return fmt.Errorf("%w: %s needs %d accounts, got %d", ErrMalformedTransaction, tx.Instruction, n, len(tx.Accounts))
	}
	return nil
}

func (p *Processor) dispatch(txn *ledger.Txn, tx *types.Transaction) (uint64, error) {
	switch tx.Program {
	case ledger.SystemProgram:
		return 0, p.dispatchSystem(txn, tx)
	case p.market.Program():
		return p.dispatchMarketplace(txn, tx)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownProgram, tx.Program)
	}
}

func (p *Processor) dispatchSystem(txn *ledger.Txn, tx *types.Transaction) error {
	acc := tx.Accounts
	switch tx.Instruction {
	case types.InstructionTransfer:
		if err := requireAccounts(tx, 2); err != nil {
			return err
		}
		var args TransferArgs
		if err := decodeArgs(tx.Data, &args); err != nil {
			return err
		}
		return txn.Transfer(acc[0].Address, acc[1].Address, args.Amount)
	case types.InstructionCreateHolding:
		if err := requireAccounts(tx, 3); err != nil {
			return err
		}
		holding, err := txn.CreateHolding(acc[0].Address, acc[0].Address, acc[1].Address)
		if err != nil {
			return err
		}
		if holding != acc[2].Address {
			return fmt.Errorf("%w: holding %s, expected %s", ErrMalformedTransaction, acc[2].Address, holding)
		}
		return nil
	case types.InstructionMintAsset:
		if err := requireAccounts(tx, 3); err != nil {
			return err
		}
		var args MintArgs
		if err := decodeArgs(tx.Data, &args); err != nil {
			return err
		}
		mint, holding, err := txn.MintAsset(acc[0].Address, args.Salt, args.URI)
		if err != nil {
			return err
		}
		if mint != acc[1].Address || holding != acc[2].Address {
			return fmt.Errorf("%w: mint accounts do not match derivation", ErrMalformedTransaction)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s for system program", ErrUnknownInstruction, tx.Instruction)
	}
}

func (p *Processor) dispatchMarketplace(txn *ledger.Txn, tx *types.Transaction) (uint64, error) {
	acc := tx.Accounts
	switch tx.Instruction {
	case types.InstructionList:
		if err := requireAccounts(tx, 5); err != nil {
			return 0, err
		}
		var args ListArgs
		if err := decodeArgs(tx.Data, &args); err != nil {
			return 0, err
		}
		_, err := p.market.List(txn, marketplace.ListAccounts{
			Seller:        acc[0].Address,
			Asset:         acc[1].Address,
			SellerHolding: acc[2].Address,
			Listing:       acc[3].Address,
			Escrow:        acc[4].Address,
		}, args.Price)
		return 0, err
	case types.InstructionBuy:
		if err := requireAccounts(tx, 5); err != nil {
			return 0, err
		}
		listing, err := p.market.Buy(txn, marketplace.BuyAccounts{
			Buyer:        acc[0].Address,
			Seller:       acc[1].Address,
			Listing:      acc[2].Address,
			Escrow:       acc[3].Address,
			BuyerHolding: acc[4].Address,
		})
		if err != nil {
			return 0, err
		}
		return listing.Price, nil
	case types.InstructionCancel:
		if err := requireAccounts(tx, 4); err != nil {
			return 0, err
		}
		_, err := p.market.Cancel(txn, marketplace.CancelAccounts{
			Seller:        acc[0].Address,
			Listing:       acc[1].Address,
			Escrow:        acc[2].Address,
			SellerHolding: acc[3].Address,
		})
		return 0, err
	default:
		return 0, fmt.Errorf("%w: %s for marketplace program", ErrUnknownInstruction, tx.Instruction)
	}
}
