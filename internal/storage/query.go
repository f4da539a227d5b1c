package storage

import (
	"fmt"
	"strings"

	"github.com/smartdevs17/contract-risk-watcher/internal/models"
)

const recordColumns = "timestamp, contract_address, creator_address, abi, risk_score, risk_reason"

// placeholderFunc renders the n-th (1-based) bind parameter
type placeholderFunc func(n int) string

func questionMark(int) string { return "?" }

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

// recordWhere builds the WHERE clause shared by record queries
func recordWhere(filter models.RecordFilter, ph placeholderFunc) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if filter.ContractAddress != nil {
		args = append(args, *filter.ContractAddress)
		conditions = append(conditions, "contract_address = "+ph(len(args)))
	}
	if filter.CreatorAddress != nil {
		args = append(args, *filter.CreatorAddress)
		conditions = append(conditions, "creator_address = "+ph(len(args)))
	}
	if filter.RiskScore != nil {
		args = append(args, string(*filter.RiskScore))
		conditions = append(conditions, "risk_score = "+ph(len(args)))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// recordSelect builds the paged record listing, newest first
func recordSelect(filter models.RecordFilter, ph placeholderFunc) (string, []interface{}) {
	where, args := recordWhere(filter, ph)
	query := "SELECT " + recordColumns + " FROM risk_records" + where + " ORDER BY id DESC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT " + ph(len(args))
		if filter.Offset > 0 {
			args = append(args, filter.Offset)
			query += " OFFSET " + ph(len(args))
		}
	}
	return query, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.OutputRecord, error) {
	var (
		r     models.OutputRecord
		abi   *string
		score string
	)
	if err := row.Scan(&r.Timestamp, &r.ContractAddress, &r.CreatorAddress, &abi, &score, &r.RiskReason); err != nil {
		return nil, err
	}
	r.ABI = abi
	r.RiskScore = models.RiskLevel(score)
	return &r, nil
}
