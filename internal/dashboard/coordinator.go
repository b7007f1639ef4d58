// Package dashboard はスタッフ用ダッシュボードのデータ整合を担うコーディネーターを提供する。
//
// 患者一覧・予約一覧・選択中の患者の3つを保持し、書き込み操作が成功するたびに
// 両一覧を取り直して選択中の患者を突き合わせる。
package dashboard

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/dentalfront/internal/metrics"
	"github.com/hitoshi/dentalfront/internal/model"
)

// Gateway はコーディネーターが使うバックエンド操作。gateway.Clientがこれを満たす。
type Gateway interface {
	ListPatients(ctx context.Context) ([]model.Patient, error)
	ListAppointments(ctx context.Context) ([]model.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id int, status model.AppointmentStatus) (*model.Appointment, error)
	CreateHistoryEntry(ctx context.Context, in model.HistoryInput) (*model.HistoryInput, error)
	CreatePrescription(ctx context.Context, in model.PrescriptionInput) (*model.PrescriptionInput, error)
}

// Config はコーディネーターの設定。
type Config struct {
	// StaleSelectionLimit は選択中の患者が一覧に見つからないリフレッシュがこの回数連続したら選択を解除する。
	// 0の場合は解除しない。
	StaleSelectionLimit int
}

// Snapshot はダッシュボードの表示用データ。
type Snapshot struct {
	Patients     []model.Patient     `json:"patients"`
	Appointments []model.Appointment `json:"appointments"`
	Pending      []model.Appointment `json:"pending_appointments"`
	Selected     *model.Patient      `json:"selected_patient"`
	Loading      bool                `json:"loading"`
	Err          error               `json:"-"`
}

// Coordinator はダッシュボードのデータを保持する。
//
// リフレッシュの重複実行は防がない。後に完了したものが勝つ。
type Coordinator struct {
	gw      Gateway
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	config  Config

	mu           sync.Mutex
	patients     []model.Patient
	appointments []model.Appointment
	selected     *model.Patient
	staleMisses  int
	inflight     int
	lastErr      error
}

// NewCoordinator はCoordinatorを生成する。一覧は空で、Refreshを呼ぶまで取得しない。
func NewCoordinator(gw Gateway, config Config, logger *slog.Logger, mc metrics.MetricsCollector) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	if config.StaleSelectionLimit < 0 {
		config.StaleSelectionLimit = 0
	}
	return &Coordinator{
		gw:           gw,
		logger:       logger,
		metrics:      mc,
		config:       config,
		patients:     []model.Patient{},
		appointments: []model.Appointment{},
	}
}

// Refresh は患者一覧と予約一覧を並行して取得し、両方揃ってから置き換える。
//
// どちらかが失敗した場合は何も置き換えず、エラーを記録して返す。
// 成功した場合は選択中の患者を新しい一覧と突き合わせる。
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.inflight++
	c.mu.Unlock()

	var patients []model.Patient
	var appointments []model.Appointment

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := c.gw.ListPatients(gctx)
		if err != nil {
			return err
		}
		patients = p
		return nil
	})
	g.Go(func() error {
		a, err := c.gw.ListAppointments(gctx)
		if err != nil {
			return err
		}
		appointments = a
		return nil
	})
	err := g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight--

	if err != nil {
		c.lastErr = err
		c.metrics.RecordRefresh(false)
		c.logger.Warn("dashboard refresh failed",
			slog.String("kind", string(model.KindOf(err))),
			slog.String("error", err.Error()),
		)
		return err
	}

	if patients == nil {
		patients = []model.Patient{}
	}
	if appointments == nil {
		appointments = []model.Appointment{}
	}
	c.patients = patients
	c.appointments = appointments
	c.lastErr = nil
	c.reconcileLocked()
	c.metrics.RecordRefresh(true)

	c.logger.Debug("dashboard refreshed",
		slog.Int("patients", len(patients)),
		slog.Int("appointments", len(appointments)),
	)
	return nil
}

// reconcileLocked は選択中の患者を新しい患者一覧に合わせる。c.muを保持して呼ぶこと。
func (c *Coordinator) reconcileLocked() {
	if c.selected == nil {
		return
	}

	if indexOfPatient(c.patients, c.selected.ID) >= 0 {
		c.staleMisses = 0
		if next, changed := ReconcileSelection(c.selected, c.patients); changed {
			c.selected = next
		}
		return
	}

	// 見つからない場合は選択を維持する
	c.staleMisses++
	if c.config.StaleSelectionLimit > 0 && c.staleMisses >= c.config.StaleSelectionLimit {
		c.logger.Info("clearing stale patient selection",
			slog.Int("patient_id", c.selected.ID),
			slog.Int("missed_refreshes", c.staleMisses),
		)
		c.selected = nil
		c.staleMisses = 0
	}
}

// Select は一覧中の患者を選択する。通信は行わない。
func (c *Coordinator) Select(id int) (*model.Patient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := indexOfPatient(c.patients, id)
	if i < 0 {
		return nil, model.NewPatientNotFoundError(id)
	}
	p := c.patients[i]
	c.selected = &p
	c.staleMisses = 0
	return withSortedHistory(c.selected), nil
}

// ClearSelection は選択を解除する。
func (c *Coordinator) ClearSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = nil
	c.staleMisses = 0
}

// ConfirmAppointment は予約をCONFIRMEDにしてからリフレッシュする。
func (c *Coordinator) ConfirmAppointment(ctx context.Context, id int) error {
	return c.UpdateAppointmentStatus(ctx, id, model.StatusConfirmed)
}

// CancelAppointment は予約をCANCELLEDにしてからリフレッシュする。
func (c *Coordinator) CancelAppointment(ctx context.Context, id int) error {
	return c.UpdateAppointmentStatus(ctx, id, model.StatusCancelled)
}

// UpdateAppointmentStatus は予約のステータスを変更してからリフレッシュする。
// 書き込みに失敗した場合は状態を変えずにエラーを返す。
// 書き込み後のリフレッシュ失敗は戻り値にせず、Snapshot().Errに残す。
func (c *Coordinator) UpdateAppointmentStatus(ctx context.Context, id int, status model.AppointmentStatus) error {
	if _, err := c.gw.UpdateAppointmentStatus(ctx, id, status); err != nil {
		c.logMutationFailure("update_appointment_status", err)
		return err
	}
	c.logger.Info("appointment status updated",
		slog.Int("appointment_id", id),
		slog.String("status", string(status)),
	)
	c.refreshAfterWrite(ctx)
	return nil
}

// AddHistoryEntry は選択中の患者に来院記録を追加してからリフレッシュする。
// in.Patientは無視し、選択中の患者のIDを使う。
func (c *Coordinator) AddHistoryEntry(ctx context.Context, in model.HistoryInput) error {
	c.mu.Lock()
	selected := c.selected
	c.mu.Unlock()
	if selected == nil {
		return model.NewNoPatientSelectedError()
	}

	in.Patient = selected.ID
	if _, err := c.gw.CreateHistoryEntry(ctx, in); err != nil {
		c.logMutationFailure("create_history_entry", err)
		return err
	}
	c.logger.Info("history entry created", slog.Int("patient_id", in.Patient))
	c.refreshAfterWrite(ctx)
	return nil
}

// AddPrescription は来院記録に処方を追加してからリフレッシュする。
func (c *Coordinator) AddPrescription(ctx context.Context, in model.PrescriptionInput) error {
	if _, err := c.gw.CreatePrescription(ctx, in); err != nil {
		c.logMutationFailure("create_prescription", err)
		return err
	}
	c.logger.Info("prescription created", slog.Int("history_entry_id", in.HistoryEntry))
	c.refreshAfterWrite(ctx)
	return nil
}

// Snapshot は現在のデータのコピーを返す。保留中の予約はその都度計算する。
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Patients:     slices.Clone(c.patients),
		Appointments: slices.Clone(c.appointments),
		Pending:      model.PendingAppointments(c.appointments),
		Selected:     withSortedHistory(c.selected),
		Loading:      c.inflight > 0,
		Err:          c.lastErr,
	}
}

// Selected は選択中の患者を返す。戻り値のポインタはリフレッシュで内容が変わらない限り同じ。
// 内部状態そのものを指すため、呼び出し側は読み取り専用として扱うこと。
func (c *Coordinator) Selected() *model.Patient {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Pending は保留中（PENDING）の予約を返す。
func (c *Coordinator) Pending() []model.Appointment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.PendingAppointments(c.appointments)
}

// refreshAfterWrite は書き込み成功後のリフレッシュを行う。
// 書き込みは保存済みなので、失敗はlastErrに記録するだけで呼び出し元には返さない。
func (c *Coordinator) refreshAfterWrite(ctx context.Context) {
	_ = c.Refresh(ctx)
}

func (c *Coordinator) logMutationFailure(operation string, err error) {
	c.logger.Warn("dashboard mutation failed",
		slog.String("operation", operation),
		slog.String("kind", string(model.KindOf(err))),
		slog.String("error", err.Error()),
	)
}

func withSortedHistory(p *model.Patient) *model.Patient {
	if p == nil {
		return nil
	}
	c := *p
	c.History = SortedHistory(p.History)
	return &c
}
