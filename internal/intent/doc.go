// Package intent turns chat text into reminder jobs.
//
// It recognises a deliberately small grammar: a time expression
// ("a las 8", "a las 15:30", "at 9") combined with either the next-day marker
// ("mañana") or the every-day marker ("todos los días"). Anything else is
// acknowledged with a hint. There is no date arithmetic beyond "tomorrow".
package intent
