package escalation

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"checkinbot/internal/domain"
)

// Kind is the message chosen for a firing.
type Kind string

const (
	KindReminder   Kind = "reminder"
	KindGrace      Kind = "grace"
	KindPenalty    Kind = "penalty"
	KindPraise     Kind = "praise"
	KindCompletion Kind = "completion"
)

// Content is everything a provider may use to word a message. Mentions are
// already rendered for HTML parse mode.
type Content struct {
	Kind           Kind
	Period         domain.PeriodType
	Tier           domain.Tier
	Mentions       []string
	DaysSinceStart int
	DayNumber      int
	WeekNumber     int
	FineAmount     int
}

// ContentProvider turns a decided escalation into text. It must not fail.
type ContentProvider interface {
	Render(c Content) string
}

// RussianContent is the stock wording of the course chat.
type RussianContent struct {
	pick func(n int) int
}

func NewRussianContent() *RussianContent {
	return &RussianContent{pick: rand.IntN}
}

// newSeededContent makes picks deterministic for tests.
func newSeededContent(seed uint64) *RussianContent {
	r := rand.New(rand.NewPCG(seed, seed))
	return &RussianContent{pick: r.IntN}
}

var reportGenitive = map[domain.PeriodType]string{
	domain.PeriodMorning: "утреннего",
	domain.PeriodEvening: "вечернего",
	domain.PeriodWeekly:  "недельного",
}

var reportNominative = map[domain.PeriodType]string{
	domain.PeriodMorning: "Утренний",
	domain.PeriodEvening: "Вечерний",
	domain.PeriodWeekly:  "Недельный",
}

var praiseHeader = map[domain.PeriodType]string{
	domain.PeriodMorning: "Все участники сдали утренние отчеты вовремя. Молодцы! ",
	domain.PeriodEvening: "Все участники сдали вечерние отчеты вовремя. Молодцы! ",
	domain.PeriodWeekly:  "Все участники сдали недельные отчеты вовремя. Отличная работа! ",
}

var praiseLines = []string{
	"Превосходная работа! Ваши отчёты сияют как звёзды в ночном небе! 🌟",
	"Невероятный успех! Ваши отчеты отражают вашу страсть и упорство. 💪",
	"Браво! Каждый ваш отчёт - это шаг на пути к величию. 🚀",
	"Вы несомненно мастера своего дела! Ваши отчеты - пример для подражания. 👏",
	"Удивительно! Ваши отчеты свидетельствуют о вашем таланте и трудолюбии. 👌",
	"Каждый ваш отчёт - это очередной шедевр! Продолжайте в том же духе. 🌈",
	"Вы - звезда! Ваши отчеты озаряют путь к успеху. ✨",
	"Так держать! Ваши отчеты каждый раз превосходят ожидания. 🚀",
	"Вы вдохновляете нас всех! Ваши отчеты - пример настойчивости и целеустремленности. 💖",
	"Ваши отчеты - как маяк, освещающий путь к цели. Блестяще! 🚩",
	"Вы пишете историю успеха с каждым отчетом. Вдохновляюще! 📚",
	"Каждый ваш отчет - это звездопад ваших достижений, освещающий путь другим. ✨",
}

var penaltyLines = []string{
	"Похоже, сегодня у вас был день полный чудес и волшебства, но не забывайте добавить к ним отчёт ✨",
	"Сегодня вы, должно быть, спасали мир! Не забудьте ещё и маленькое чудо сделать. 🌍",
	"Сегодня вы, наверняка, творили историю! Поделитесь этой историей с фондом добрых дел. 📜",
	"Вы сегодня были звездой на небосводе! Не забудьте оставить искру в созвездии добрых дел. ⭐",
	"Вы сегодня, кажется, раскрашивали мир! Не упустите шанс раскрасить и картину добрых дел. 🖌️",
	"Сегодня вы, вероятно, творили чудеса! Не забудьте добавить свою волшебную пыльцу в фонд чудес. 🌟",
	"Кажется, сегодня вы собирали звёзды с небес! Поделитесь этим сиянием, добавьте искорку в фонд светлых свершений.. ✨",
	"Сегодня вы, наверняка, плавали по волнам вдохновения! Продолжайте плыть, добавив свой вклад в фонд добрых дел. 🌊",
	"Ваше мастерство управления временем сегодня, кажется, подвело. Не забывайте найти минутку для отчёта 😊",
}

const completionText = "Сердечные поздравления всем участникам нашего захватывающего путешествия в мир знаний! 🌟 " +
	"Ваша целеустремлённость и настойчивость поражают воображение, а ваш прогресс вызывает искреннее восхищение. 🚀 " +
	"Мы бурно аплодируем вашим успехам и гордимся каждым из вас! Пусть дорога впереди будет освещена светом радости, " +
	"благополучия и неустанного стремления к новым вершинам. 🌈🌟 Желаем вам цветущего счастья, ослепительных успехов " +
	"и бесконечного финансового процветания. Продолжайте расти и развиваться, и пусть каждый новый шаг будет наполнен " +
	"вдохновением и радостью! 🎉 Вы - настоящие герои своей истории, и впереди вас ждут только самые яркие страницы! 💫"

func (r *RussianContent) Render(c Content) string {
	names := strings.Join(c.Mentions, ", ")
	switch c.Kind {
	case KindReminder:
		if c.Tier == domain.TierT60 {
			return fmt.Sprintf("Напоминание: остался 1 час на сдачу %s отчёта. Пожалуйста, убедитесь, что вы отправили ваш отчёт. Не отправили отчёт: %s", reportGenitive[c.Period], names)
		}
		return fmt.Sprintf("Напоминание: осталось 15 минут на сдачу %s отчёта. Не отправили отчёт: %s", reportGenitive[c.Period], names)
	case KindGrace:
		return fmt.Sprintf("%s отчёт не отправили вовремя: %s. Пожалуйста, не забудьте сдать его в ближайшее время! 😊", reportNominative[c.Period], names)
	case KindPenalty:
		return fmt.Sprintf("%s отчёт не отправили вовремя: %s. %s Отправьте на любую благотворительность %d₽, и пришлите сюда в чат скриншот перевода!😉 "+
			"Согласно принятым всеми вами правилам, за опоздание, даже минутное, мы помогаем другим 😊🌸",
			reportNominative[c.Period], names, penaltyLines[r.pick(len(penaltyLines))], c.FineAmount)
	case KindPraise:
		return praiseHeader[c.Period] + praiseLines[r.pick(len(praiseLines))]
	case KindCompletion:
		return completionText
	}
	return ""
}
