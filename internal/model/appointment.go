package model

// AppointmentStatus は予約のステータス。固定集合のいずれかを取る。
type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "PENDING"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusCancelled AppointmentStatus = "CANCELLED"
	StatusCompleted AppointmentStatus = "COMPLETED"
)

// Valid はステータスが定義済みの集合に含まれるかを返す。
func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	default:
		return false
	}
}

// PendingAppointments はステータスがPENDINGの予約だけを元の順序で返す。
// 呼び出しのたびに入力から計算し直し、結果をキャッシュしない。
func PendingAppointments(appointments []Appointment) []Appointment {
	pending := make([]Appointment, 0, len(appointments))
	for _, a := range appointments {
		if a.Status == StatusPending {
			pending = append(pending, a)
		}
	}
	return pending
}
