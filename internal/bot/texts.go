package bot

import "checkinbot/internal/domain"

const (
	textStart          = "Привет! Я бот для отслеживания хештегов курса."
	textJoined         = "Вы успешно добавлены в список участников!"
	textAlreadyJoined  = "Вы уже зарегистрированы."
	textStartDateSet   = "Дата начала курса установлена на %s."
	textBadDate        = "Неверный формат даты. Используйте ГГГГ-ММ-ДД."
	textRemoved        = "Участник с ID %d удален."
	textNotMember      = "Участник с ID %d не найден."
	textRemoveUsage    = "Неверный формат команды. Используйте /remove &lt;user_id&gt;."
	textExcuseUsage    = "Неверный формат команды. Используйте /excuse &lt;user_id&gt; &lt;morning|evening|weekly&gt; [ГГГГ-ММ-ДД]."
	textExcused        = "%s освобождён от сдачи %s отчёта за %s."
	textNoInstance     = "В этот день нет %s отчёта."
	textNoStartDate    = "Дата начала курса не установлена. Используйте /setstartdate ГГГГ-ММ-ДД."
	textNoMembers      = "Список участников пуст."
	textMembersHeader  = "Участники (%d):"
	textNoFines        = "Штрафов нет."
	textFinesHeader    = "Штрафы:"
	textLateHeader     = "Не отправили %s отчёт за %s: %s"
	textAllSubmitted   = "Все сдали %s отчёт за %s."
	textNothingDueNow  = "Сегодня отчётов нет."
	textUnknownPeriod  = "Неизвестный отчёт. Используйте morning, evening или weekly."
	textDeniedStart    = "Только администраторы могут изменять дату начала курса."
	textDeniedRemove   = "Только администраторы могут удалять участников."
	textStorageFailure = "Не удалось выполнить команду, попробуйте позже."
	textSetTagUsage    = "Неверный формат команды. Используйте /settag &lt;morning|evening|weekly&gt; &lt;#префикс|reset&gt;."
	textTagsHeader     = "Хештеги отчётов:"
	textTagSet         = "Хештег %s отчёта: %s (номер дня добавляется в конце)."
	textTagInvalid     = "Недопустимый префикс: начните с #, без пробелов и без цифры в конце."
	textTagTaken       = "Префикс %s уже используется для %s отчёта."
	textDeniedTag      = "Только администраторы могут менять хештеги."
)

// reportAdjective is the accusative form used in "сдали ... отчёт".
var reportAdjective = map[domain.PeriodType]string{
	domain.PeriodMorning: "утренний",
	domain.PeriodEvening: "вечерний",
	domain.PeriodWeekly:  "недельный",
}

var reportGenitive = map[domain.PeriodType]string{
	domain.PeriodMorning: "утреннего",
	domain.PeriodEvening: "вечернего",
	domain.PeriodWeekly:  "недельного",
}

// parsePeriod accepts the period names in English and Russian.
func parsePeriod(s string) (domain.PeriodType, bool) {
	switch s {
	case "morning", "утро", "утренний", "оу":
		return domain.PeriodMorning, true
	case "evening", "вечер", "вечерний", "ов":
		return domain.PeriodEvening, true
	case "weekly", "week", "неделя", "недельный":
		return domain.PeriodWeekly, true
	}
	return "", false
}
