// Package scheduler registers recurring and one-off reminder triggers and
// hands every firing to the task engine. It computes when jobs run; it never
// runs them itself.
//
// Recurring entries use 6-field cron specs with seconds. A spec may carry a
// CRON_TZ= prefix, which pins it to a zone independent of Config.Timezone.
package scheduler
