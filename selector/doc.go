// Package selector filters and ranks journey candidates.
//
// FilterViable produces the departure-ordered list shown for a route. Best
// picks a single option by weighted score and is used where only one answer
// fits, such as a widget or a notification.
package selector
