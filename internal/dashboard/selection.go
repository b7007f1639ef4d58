package dashboard

import (
	"cmp"
	"reflect"
	"slices"

	"github.com/hitoshi/dentalfront/internal/model"
)

// ReconcileSelection はリフレッシュ後の選択中患者を決める。
//
// freshに同じIDの患者が無い場合、内容が同じ場合はcurrentをそのまま返し、changedはfalse。
// 内容が異なる場合のみ新しい患者を返し、changedはtrue。
// 参照が変わらない限り、選択に依存する表示は再計算しなくてよい。
func ReconcileSelection(current *model.Patient, fresh []model.Patient) (next *model.Patient, changed bool) {
	if current == nil {
		return nil, false
	}
	i := indexOfPatient(fresh, current.ID)
	if i < 0 {
		return current, false
	}
	if reflect.DeepEqual(*current, fresh[i]) {
		return current, false
	}
	p := fresh[i]
	return &p, true
}

// SortedHistory は来院履歴を来院日の新しい順に並べたコピーを返す。元の患者は変更しない。
func SortedHistory(history []model.HistoryEntry) []model.HistoryEntry {
	sorted := slices.Clone(history)
	if sorted == nil {
		sorted = []model.HistoryEntry{}
	}
	slices.SortStableFunc(sorted, func(a, b model.HistoryEntry) int {
		return cmp.Compare(b.VisitDate, a.VisitDate)
	})
	return sorted
}

func indexOfPatient(patients []model.Patient, id int) int {
	return slices.IndexFunc(patients, func(p model.Patient) bool {
		return p.ID == id
	})
}
