package redisclient

import (
	"fmt"
	"time"
)

// Key templates shared with other services reading the same Redis.
const (
	OnlineDoctorsKey = "geo:doctors:online"
)

// DoctorOnlineKey is the liveness marker of one doctor.
func DoctorOnlineKey(doctorID string) string {
	return fmt.Sprintf("geo:doctor:%s:online", doctorID)
}

func EmergencyGroupKey(groupID string) string {
	return fmt.Sprintf("geo:emergency:group:%s", groupID)
}

// EmergencyAcceptedKey holds the acceptance lock of a group.
func EmergencyAcceptedKey(groupID string) string {
	return fmt.Sprintf("geo:emergency:group:%s:accepted", groupID)
}

// EmergencyRequestKey maps a queue item id to its group id.
func EmergencyRequestKey(queueItemID string) string {
	return fmt.Sprintf("geo:emergency:request:%s", queueItemID)
}

func QuotaDayKey(patientID string, t time.Time) string {
	return fmt.Sprintf("geo:quota:patient:%s:day:%s", patientID, t.UTC().Format("20060102"))
}

func QuotaMonthKey(patientID string, t time.Time) string {
	return fmt.Sprintf("geo:quota:patient:%s:month:%s", patientID, t.UTC().Format("200601"))
}

// UserEventsChannel is the pub/sub channel carrying state-change events for one user.
func UserEventsChannel(userID string) string {
	return fmt.Sprintf("events:user:%s", userID)
}
