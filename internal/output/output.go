// Пакет output — атомарная запись файлов отчётов и выгрузок.
// Паттерн: temp файл → fsync → atomic rename; читатель никогда не видит
// наполовину записанный файл.
package output

import (
	"fmt"
	"os"
	"path/filepath"
)

// tmpSuffix — суффикс временного файла рядом с целевым.
const tmpSuffix = ".tmp"

// File — файл, который появляется по целевому пути только после Commit.
type File struct {
	f    *os.File
	path string
	done bool
}

// Create создаёт временный файл рядом с path. Каталог создаётся при необходимости.
func Create(path string) (*File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	f, err := os.Create(path + tmpSuffix)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	return &File{f: f, path: path}, nil
}

// Write пишет во временный файл.
func (o *File) Write(p []byte) (int, error) {
	return o.f.Write(p)
}

// Path возвращает целевой путь.
func (o *File) Path() string {
	return o.path
}

// Commit выполняет fsync и переименовывает временный файл в целевой.
func (o *File) Commit() error {
	if o.done {
		return nil
	}
	o.done = true
	tmpPath := o.f.Name()

	if err := o.f.Sync(); err != nil {
		o.f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := o.f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tmpPath, o.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// Abort удаляет временный файл. После Commit ничего не делает,
// поэтому безопасен в defer.
func (o *File) Abort() {
	if o.done {
		return
	}
	o.done = true
	o.f.Close()
	os.Remove(o.f.Name())
}

// WriteFile атомарно записывает data в path.
func WriteFile(path string, data []byte) error {
	f, err := Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Abort()
		return fmt.Errorf("ошибка записи: %w", err)
	}
	return f.Commit()
}
