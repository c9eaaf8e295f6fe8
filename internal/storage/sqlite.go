package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/streamcast/live-rules/internal/rules"
)

// preparedStatements 预处理语句集合
type preparedStatements struct {
	insert     *sql.Stmt
	updateByID *sql.Stmt
	deleteByID *sql.Stmt
	selectAll  *sql.Stmt
}

// SQLiteStore SQLite规则存储。规则本体序列化为JSON存入data列，
// 保证导出/导入与落库的往返无损。
type SQLiteStore struct {
	db    *sql.DB
	stmts *preparedStatements
}

// NewSQLiteStore 创建SQLite存储并初始化表结构
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	// 本地单操作者面板，小连接池足够
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initDatabase(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}
	if err := store.initPreparedStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化预处理语句失败: %w", err)
	}
	return store, nil
}

// initDatabase 初始化数据库表
func (s *SQLiteStore) initDatabase() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS rules (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_rules_event_type ON rules(event_type)`)
	return err
}

// initPreparedStatements 初始化预处理语句
func (s *SQLiteStore) initPreparedStatements() error {
	var err error
	stmts := &preparedStatements{}

	stmts.insert, err = s.db.Prepare(`INSERT INTO rules (id, event_type, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	stmts.updateByID, err = s.db.Prepare(`UPDATE rules SET event_type = ?, data = ?, updated_at = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	stmts.deleteByID, err = s.db.Prepare(`DELETE FROM rules WHERE id = ?`)
	if err != nil {
		return err
	}
	stmts.selectAll, err = s.db.Prepare(`SELECT data FROM rules ORDER BY id`)
	if err != nil {
		return err
	}

	s.stmts = stmts
	return nil
}

// Insert 插入规则
func (s *SQLiteStore) Insert(rule *rules.Rule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("序列化规则失败: %w", err)
	}
	_, err = s.stmts.insert.Exec(rule.ID, rule.EventType, string(data), rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("插入规则失败: %w", err)
	}
	return nil
}

// UpdateByID 更新规则
func (s *SQLiteStore) UpdateByID(id string, rule *rules.Rule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("序列化规则失败: %w", err)
	}
	result, err := s.stmts.updateByID.Exec(rule.EventType, string(data), rule.UpdatedAt, id)
	if err != nil {
		return fmt.Errorf("更新规则失败: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("规则不存在: %s", id)
	}
	return nil
}

// DeleteByID 删除规则
func (s *SQLiteStore) DeleteByID(id string) error {
	result, err := s.stmts.deleteByID.Exec(id)
	if err != nil {
		return fmt.Errorf("删除规则失败: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("规则不存在: %s", id)
	}
	return nil
}

// SelectAll 读取全部规则
func (s *SQLiteStore) SelectAll() ([]*rules.Rule, error) {
	rows, err := s.stmts.selectAll.Query()
	if err != nil {
		return nil, fmt.Errorf("查询规则失败: %w", err)
	}
	defer rows.Close()

	var out []*rules.Rule
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("读取规则行失败: %w", err)
		}
		var rule rules.Rule
		if err := json.Unmarshal([]byte(data), &rule); err != nil {
			return nil, fmt.Errorf("反序列化规则失败: %w", err)
		}
		out = append(out, &rule)
	}
	return out, rows.Err()
}

// Close 关闭数据库连接
func (s *SQLiteStore) Close() error {
	if s.stmts != nil {
		s.stmts.insert.Close()
		s.stmts.updateByID.Close()
		s.stmts.deleteByID.Close()
		s.stmts.selectAll.Close()
	}
	return s.db.Close()
}
