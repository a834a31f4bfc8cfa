package story

const (
	EndingSoft = "ending_soft"
	EndingHot  = "ending_hot"
	EndingMax  = "ending_max"
)

// Routing выбирает финал по накопленной симпатии для выборов без LeadsTo.
// heat <= SoftMaxHeat -> Soft, heat <= HotMaxHeat -> Hot, иначе Max.
type Routing struct {
	Soft        string
	Hot         string
	Max         string
	SoftMaxHeat int
	HotMaxHeat  int
}

// DefaultRouting - пороги 0 и 2 с финалами ending_soft/ending_hot/ending_max.
func DefaultRouting() Routing {
	return Routing{
		Soft:        EndingSoft,
		Hot:         EndingHot,
		Max:         EndingMax,
		SoftMaxHeat: 0,
		HotMaxHeat:  2,
	}
}

// Route возвращает код финальной сцены для heat.
func (r Routing) Route(heat int) string {
	switch {
	case heat <= r.SoftMaxHeat:
		return r.Soft
	case heat <= r.HotMaxHeat:
		return r.Hot
	default:
		return r.Max
	}
}

// Targets возвращает все финалы маршрутизации.
func (r Routing) Targets() []string {
	return []string{r.Soft, r.Hot, r.Max}
}
